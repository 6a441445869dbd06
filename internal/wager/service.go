// Package wager is the operation surface of the engine: protocol setup,
// market lifecycle, bet placement, AMM exits and settlement.
//
// Every mutating operation runs as one store unit of work. Records and
// ledger transfers either all commit or none do; events are published only
// after commit.
package wager

import (
	"context"
	"log/slog"
	"time"

	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/store"
)

// Service executes engine operations against a store.
type Service struct {
	store        store.Store
	events       events.Publisher
	devRecipient string
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for end-time checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets the event sink. Defaults to discarding events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService creates a service. devRecipient is the fixed identity that
// receives the dev share of every fee; it is recorded in the protocol
// configuration at initialization.
func NewService(st store.Store, devRecipient string, opts ...Option) *Service {
	s := &Service{
		store:        st,
		events:       events.Nop{},
		devRecipient: devRecipient,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store {
	return s.store
}

// publish delivers events after commit. Failures are logged, never returned.
func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	for _, evt := range evts {
		if err := s.events.Publish(ctx, evt); err != nil {
			slog.Warn("event publish failed", "type", evt.Type, "market", evt.MarketID, "error", err)
		}
	}
}

func (s *Service) event(typ string, marketID uint64) events.Event {
	return events.New(typ, marketID, s.now())
}

// requireCaller rejects missing identities and identities reserved for
// market escrows.
func requireCaller(caller string) error {
	if caller == "" {
		return model.ErrMissingCaller
	}
	if model.ReservedIdentity(caller) {
		return model.ErrUnauthorized
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
