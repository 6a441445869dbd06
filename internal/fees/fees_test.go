package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		total, protocol, dev uint64
	}{
		{0, 0, 0},
		{1, 0, 1},
		{7, 3, 4},
		{71, 35, 36},
		{100, 50, 50},
	}
	for _, tt := range tests {
		p, d := Split(tt.total)
		if p != tt.protocol || d != tt.dev {
			t.Errorf("Split(%d) = (%d, %d), expected (%d, %d)", tt.total, p, d, tt.protocol, tt.dev)
		}
		if p+d != tt.total {
			t.Errorf("Split(%d) loses value: %d + %d", tt.total, p, d)
		}
	}
}

func TestDistribute(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewBook()
	escrow := model.EscrowAccount(3)
	if err := book.Credit(ctx, escrow, 100); err != nil {
		t.Fatal(err)
	}

	err := Distribute(ctx, book, Payout{MarketID: 3, FeeRecipient: "treasury", DevRecipient: "dev", Total: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := book.Snapshot()
	if got["treasury"] != 3 || got["dev"] != 4 {
		t.Errorf("expected treasury=3 dev=4, got treasury=%d dev=%d", got["treasury"], got["dev"])
	}
	if got[escrow] != 93 {
		t.Errorf("expected escrow=93, got %d", got[escrow])
	}
}

func TestDistribute_ZeroIsNoop(t *testing.T) {
	book := ledger.NewBook()
	if err := Distribute(context.Background(), book, Payout{MarketID: 1, Total: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(book.Journal("")) != 0 {
		t.Error("zero distribution should not touch the ledger")
	}
}

func TestDistribute_OneUnitGoesToDev(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewBook()
	_ = book.Credit(ctx, model.EscrowAccount(0), 1)

	if err := Distribute(ctx, book, Payout{MarketID: 0, FeeRecipient: "treasury", DevRecipient: "dev", Total: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := book.Snapshot()["dev"]; got != 1 {
		t.Errorf("expected dev=1, got %d", got)
	}
}

func TestDistribute_EscrowShort(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewBook()
	_ = book.Credit(ctx, model.EscrowAccount(2), 5)

	err := Distribute(ctx, book, Payout{MarketID: 2, FeeRecipient: "treasury", DevRecipient: "dev", Total: 20})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}
