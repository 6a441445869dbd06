package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSPublisher publishes events to JetStream on
// {prefix}.{event_type}.{market_id}. Events are published only after the
// unit of work that produced them has committed.
type NATSPublisher struct {
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher creates a publisher under subject prefix.
func NewNATSPublisher(js jetstream.JetStream, prefix string) *NATSPublisher {
	return &NATSPublisher{js: js, prefix: prefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The event ID doubles as the JetStream dedup key.
	_, err = p.js.Publish(ctx, p.Subject(evt), data, jetstream.WithMsgID(evt.ID.String()))
	return err
}

// Subject returns the subject evt is published on.
func (p *NATSPublisher) Subject(evt Event) string {
	return fmt.Sprintf("%s.%s.%d", p.prefix, evt.Type, evt.MarketID)
}

// EnsureStream creates or updates the stream that captures every subject
// under prefix.
func EnsureStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix))
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create event stream %s: %w", name, err)
	}
	slog.Info("ensured event stream", "stream", name, "subjects", prefix+".>")
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
