package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewStampsEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("BST", 3600))
	e := New(TypeAlertCreated, "medic-1", "bk-1", "sess-1", at, map[string]float64{"distance_meters": 140})

	if e.EventID == "" {
		t.Error("expected an event id")
	}
	if e.OccurredAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", e.OccurredAt.Location())
	}
	if !e.OccurredAt.Equal(at) {
		t.Errorf("expected %v, got %v", at, e.OccurredAt)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["type"] != TypeAlertCreated || back["medic_id"] != "medic-1" {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{Type: TypeSessionStarted}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestRabbitPublisherWithoutChannel(t *testing.T) {
	p := &RabbitPublisher{exchange: "medic_tracking"}
	err := p.Publish(context.Background(), Event{Type: TypeAlertCreated})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("expected ErrChannelUnavailable, got %v", err)
	}
	p.Close()
	p.Close()
}
