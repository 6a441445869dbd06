package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Book maintains in-memory account balances and the journal of applied
// transfers. It implements Gateway directly; Begin opens a staged Batch
// whose transfers only become visible on Commit.
type Book struct {
	write    sync.Mutex // serialises direct Transfer and Credit calls
	mu       sync.RWMutex
	balances map[model.Account]uint64
	journal  []Transfer
	now      func() time.Time
}

// NewBook creates an empty balance book.
func NewBook() *Book {
	return &Book{
		balances: make(map[model.Account]uint64),
		now:      time.Now,
	}
}

func (b *Book) Balance(_ context.Context, account model.Account) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[account], nil
}

// Transfer applies a single transfer atomically.
func (b *Book) Transfer(ctx context.Context, t Transfer) error {
	b.write.Lock()
	defer b.write.Unlock()
	batch := b.Begin()
	if err := batch.Transfer(ctx, t); err != nil {
		return err
	}
	batch.Commit()
	return nil
}

// Credit mints amount into account. Used for provisioning only.
func (b *Book) Credit(ctx context.Context, account model.Account, amount uint64) error {
	b.write.Lock()
	defer b.write.Unlock()
	batch := b.Begin()
	if err := batch.Credit(ctx, account, amount); err != nil {
		return err
	}
	batch.Commit()
	return nil
}

// Journal returns the applied transfers touching account, oldest first.
// An empty account returns the whole journal.
func (b *Book) Journal(account model.Account) []Transfer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Transfer
	for _, t := range b.journal {
		if account == "" || t.From == account || t.To == account {
			out = append(out, t)
		}
	}
	return out
}

// Snapshot returns a copy of all balances.
func (b *Book) Snapshot() map[model.Account]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make(map[model.Account]uint64, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Begin opens a staged batch over the book.
func (b *Book) Begin() *Batch {
	return &Batch{book: b, staged: make(map[model.Account]uint64)}
}

// Batch stages transfers against a Book. Reads see the batch's own writes.
// A Batch is not safe for concurrent use; callers serialise batches.
type Batch struct {
	book    *Book
	staged  map[model.Account]uint64
	journal []Transfer
}

func (x *Batch) balance(account model.Account) uint64 {
	if v, ok := x.staged[account]; ok {
		return v
	}
	x.book.mu.RLock()
	defer x.book.mu.RUnlock()
	return x.book.balances[account]
}

func (x *Batch) Balance(_ context.Context, account model.Account) (uint64, error) {
	return x.balance(account), nil
}

func (x *Batch) Transfer(_ context.Context, t Transfer) error {
	from, to, err := Move(t, x.balance(t.From), x.balance(t.To))
	if err != nil {
		return err
	}
	Stamp(&t, x.book.now())
	x.staged[t.From] = from
	x.staged[t.To] = to
	x.journal = append(x.journal, t)
	return nil
}

// Credit mints amount into account within the batch.
func (x *Batch) Credit(_ context.Context, account model.Account, amount uint64) error {
	if amount == 0 {
		return model.ErrInvalidAmount
	}
	next, err := checked.Add(x.balance(account), amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	t := Transfer{To: account, Amount: amount, Kind: KindDeposit}
	Stamp(&t, x.book.now())
	x.staged[account] = next
	x.journal = append(x.journal, t)
	return nil
}

// Commit publishes the staged balances and journal to the book.
func (x *Batch) Commit() {
	x.book.mu.Lock()
	defer x.book.mu.Unlock()
	for account, v := range x.staged {
		x.book.balances[account] = v
	}
	x.book.journal = append(x.book.journal, x.journal...)
	x.staged = make(map[model.Account]uint64)
	x.journal = nil
}
