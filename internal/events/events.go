// Package events publishes engine events after each committed unit of work.
// Publication is best-effort: a failed sink never affects the operation
// that produced the event.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeProtocolInitialized = "protocol_initialized"
	TypeMarketCreated       = "market_created"
	TypeBetPlaced           = "bet_placed"
	TypePositionIncreased   = "position_increased"
	TypeWithdrawn           = "withdrawn"
	TypePositionCancelled   = "position_cancelled"
	TypeMarketResolved      = "market_resolved"
	TypeWinningsClaimed     = "winnings_claimed"
)

// Event is the JSON payload delivered to every sink. Fields irrelevant to a
// type are omitted.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	MarketID   uint64    `json:"market_id"`
	PositionID *uint64   `json:"position_id,omitempty"`
	User       string    `json:"user,omitempty"`
	Outcome    *uint8    `json:"outcome,omitempty"`
	Amount     uint64    `json:"amount,omitempty"`
	Payout     uint64    `json:"payout,omitempty"`
	Fee        uint64    `json:"fee,omitempty"`
	Pools      []uint64  `json:"pools,omitempty"`
	Question   string    `json:"question,omitempty"`
	EndTime    time.Time `json:"end_time,omitzero"`
	Timestamp  time.Time `json:"timestamp"`
}

// New stamps a fresh event of type typ for a market.
func New(typ string, marketID uint64, now time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, MarketID: marketID, Timestamp: now}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Multi fans an event out to several publishers. Every sink is attempted
// and the failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
