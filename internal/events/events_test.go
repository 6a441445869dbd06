package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestMulti_AttemptsEverySink(t *testing.T) {
	errSink := errors.New("sink down")
	rec := &Recorder{}
	m := Multi{failing{errSink}, rec}

	err := m.Publish(context.Background(), New(TypeBetPlaced, 3, time.Now()))
	if !errors.Is(err, errSink) {
		t.Errorf("expected joined sink error, got %v", err)
	}
	if got := rec.OfType(TypeBetPlaced); len(got) != 1 || got[0].MarketID != 3 {
		t.Errorf("healthy sink should still receive the event, got %+v", got)
	}
}

func TestNew_StampsIdentity(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	a := New(TypeMarketCreated, 1, now)
	b := New(TypeMarketCreated, 1, now)
	if a.ID == b.ID {
		t.Error("expected unique event IDs")
	}
	if !a.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, a.Timestamp)
	}
}

func TestEvent_OmitsUnsetFields(t *testing.T) {
	data, err := json.Marshal(New(TypeMarketResolved, 9, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"position_id", "payout", "end_time", "question"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("expected %s to be omitted: %s", field, data)
		}
	}
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := NewNATSPublisher(nil, "wager.events")
	got := p.Subject(New(TypeWinningsClaimed, 12, time.Now()))
	if got != "wager.events.winnings_claimed.12" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestRedisPublisher_StreamKey(t *testing.T) {
	p := NewRedisPublisher(nil, "wager:events")
	if p.StreamKey() != "wager:events:stream" {
		t.Errorf("unexpected stream key %q", p.StreamKey())
	}
}

func TestWSHub_BroadcastsPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(ctx, New(TypeBetPlaced, 5, time.Now())); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != TypeBetPlaced || evt.MarketID != 5 {
		t.Errorf("unexpected event %+v", evt)
	}
}
