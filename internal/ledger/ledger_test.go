package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/wagerproto/wager-engine/internal/model"
)

func fund(t *testing.T, b *Book, acct model.Account, amount uint64) {
	t.Helper()
	if err := b.Credit(context.Background(), acct, amount); err != nil {
		t.Fatalf("credit %s: %v", acct, err)
	}
}

func balance(t *testing.T, g Gateway, acct model.Account) uint64 {
	t.Helper()
	v, err := g.Balance(context.Background(), acct)
	if err != nil {
		t.Fatalf("balance %s: %v", acct, err)
	}
	return v
}

func TestTransfer_UserToEscrow(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	fund(t, b, "alice", 1000)

	escrow := model.EscrowAccount(0)
	err := b.Transfer(ctx, Transfer{From: "alice", To: escrow, Amount: 400, Authority: "alice", Kind: KindStake})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := balance(t, b, "alice"); got != 600 {
		t.Errorf("expected alice=600, got %d", got)
	}
	if got := balance(t, b, escrow); got != 400 {
		t.Errorf("expected escrow=400, got %d", got)
	}

	journal := b.Journal(escrow)
	if len(journal) != 1 || journal[0].Kind != KindStake {
		t.Fatalf("expected one stake entry for escrow, got %+v", journal)
	}
	if journal[0].ID == uuid.Nil || journal[0].At.IsZero() {
		t.Error("expected transfer to be stamped with id and time")
	}
}

func TestTransfer_EscrowNeedsMarketAuthority(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	escrow := model.EscrowAccount(7)
	fund(t, b, escrow, 500)

	err := b.Transfer(ctx, Transfer{From: escrow, To: "mallory", Amount: 100, Authority: "mallory"})
	if !errors.Is(err, model.ErrUnauthorizedTransfer) {
		t.Fatalf("expected ErrUnauthorizedTransfer, got %v", err)
	}
	err = b.Transfer(ctx, Transfer{From: escrow, To: "bob", Amount: 100, Authority: model.MarketAuthority(7)})
	if err != nil {
		t.Fatalf("market authority should sign escrow transfer: %v", err)
	}
	if got := balance(t, b, escrow); got != 400 {
		t.Errorf("expected escrow=400, got %d", got)
	}
}

func TestTransfer_Errors(t *testing.T) {
	b := NewBook()
	fund(t, b, "alice", 100)
	fund(t, b, "whale", math.MaxUint64)

	tests := []struct {
		name string
		tr   Transfer
		want error
	}{
		{"zero amount", Transfer{From: "alice", To: "bob", Amount: 0, Authority: "alice"}, model.ErrInvalidAmount},
		{"insufficient", Transfer{From: "alice", To: "bob", Amount: 101, Authority: "alice"}, model.ErrInsufficientBalance},
		{"wrong signer", Transfer{From: "alice", To: "bob", Amount: 1, Authority: "bob"}, model.ErrUnauthorizedTransfer},
		{"credit overflow", Transfer{From: "alice", To: "whale", Amount: 1, Authority: "alice"}, model.ErrAmountOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Transfer(context.Background(), tt.tr)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := balance(t, b, "alice"); got != 100 {
		t.Errorf("failed transfers must not move value: alice=%d", got)
	}
}

func TestBatch_DiscardedWithoutCommit(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	fund(t, b, "alice", 100)

	batch := b.Begin()
	if err := batch.Transfer(ctx, Transfer{From: "alice", To: "bob", Amount: 60, Authority: "alice"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, batch, "alice"); got != 40 {
		t.Errorf("batch should see its own write: alice=%d", got)
	}
	// A second transfer inside the same batch sees the staged balance.
	err := batch.Transfer(ctx, Transfer{From: "alice", To: "bob", Amount: 60, Authority: "alice"})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := balance(t, b, "alice"); got != 100 {
		t.Errorf("uncommitted batch leaked: alice=%d", got)
	}
	if len(b.Journal("")) != 1 {
		t.Errorf("expected only the funding entry in the journal")
	}

	batch.Commit()
	if got := balance(t, b, "bob"); got != 60 {
		t.Errorf("expected bob=60 after commit, got %d", got)
	}
}

func TestSnapshot_Conserved(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	fund(t, b, "alice", 1000)
	fund(t, b, "bob", 1000)

	_ = b.Transfer(ctx, Transfer{From: "alice", To: "bob", Amount: 250, Authority: "alice"})
	_ = b.Transfer(ctx, Transfer{From: "bob", To: model.EscrowAccount(1), Amount: 900, Authority: "bob"})

	var total uint64
	for _, v := range b.Snapshot() {
		total += v
	}
	if total != 2000 {
		t.Errorf("transfers must conserve value: total=%d", total)
	}
}
