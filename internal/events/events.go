// Package events carries tracking and alert events to downstream consumers
// (notification and dashboard services) over RabbitMQ.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as routing keys on the topic exchange.
const (
	TypeAlertCreated     = "alert.created"
	TypeAlertResolved    = "alert.resolved"
	TypePresenceArrived  = "presence.arrived"
	TypePresenceDeparted = "presence.departed"
	TypeSessionStarted   = "session.started"
	TypeSessionStopped   = "session.stopped"
)

type Event struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	MedicID    string    `json:"medic_id"`
	BookingID  string    `json:"booking_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the given time.
func New(eventType, medicID, bookingID, sessionID string, at time.Time, data any) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		MedicID:    medicID,
		BookingID:  bookingID,
		SessionID:  sessionID,
		Data:       data,
	}
}

// Publisher delivers events. Publishing is best effort: callers log failures
// and carry on, since the database rows remain the source of truth.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. Used when RABBITMQ_URL is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
