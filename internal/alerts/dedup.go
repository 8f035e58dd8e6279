package alerts

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/events"
	"github.com/SiteMedic/SM-Backend/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/datatypes"
)

// Breach is one outside classification for an active session.
type Breach struct {
	MedicID        string
	BookingID      string
	SessionID      uuid.UUID
	FixID          uuid.UUID
	Latitude       float64
	Longitude      float64
	DistanceMeters float64
	RadiusMeters   float64
}

// Notifier receives alert changes for live operator views.
type Notifier interface {
	Notify(FeedMessage)
}

// Deduplicator turns breaches into at most one open alert per medic and
// booking per window. The window and bucket always come from the server
// clock, never from device timestamps.
type Deduplicator struct {
	store     Store
	window    time.Duration
	publisher events.Publisher
	notifier  Notifier
	printer   *message.Printer
	now       func() time.Time
}

func NewDeduplicator(store Store, window time.Duration, publisher events.Publisher, notifier Notifier) *Deduplicator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Deduplicator{
		store:     store,
		window:    window,
		publisher: publisher,
		notifier:  notifier,
		printer:   message.NewPrinter(language.BritishEnglish),
		now:       time.Now,
	}
}

// RaiseBreach records a breach, creating a new alert or refreshing the open one.
func (d *Deduplicator) RaiseBreach(ctx context.Context, b Breach) (MedicAlert, Outcome, error) {
	now := d.now().UTC()

	candidate := MedicAlert{
		ID:        uuid.New(),
		MedicID:   b.MedicID,
		BookingID: b.BookingID,
		SessionID: b.SessionID,
		AlertType: AlertTypeGeofenceBreach,
		Severity:  SeverityHigh,
		Message:   d.breachMessage(b),
		Metadata: datatypes.NewJSONType(Metadata{
			DistanceMeters: b.DistanceMeters,
			RadiusMeters:   b.RadiusMeters,
			Latitude:       b.Latitude,
			Longitude:      b.Longitude,
			FixID:          b.FixID.String(),
			BreachCount:    1,
			LastSeenAt:     now,
		}),
		CreatedAt:   now,
		UpdatedAt:   now,
		DedupKey:    DedupKey(b.MedicID, b.BookingID, AlertTypeGeofenceBreach),
		DedupBucket: Bucket(now, d.window),
	}

	alert, outcome, err := d.store.UpsertBreach(ctx, candidate, now.Add(-d.window))
	if err != nil {
		return MedicAlert{}, 0, fmt.Errorf("raise breach for medic %s: %w", b.MedicID, err)
	}
	metrics.AlertsRaised.WithLabelValues(outcome.String()).Inc()

	if outcome == OutcomeCreated {
		log.Printf("[alerts] created %s for medic=%s booking=%s distance=%.0fm", alert.ID, b.MedicID, b.BookingID, b.DistanceMeters)
		d.publish(ctx, events.TypeAlertCreated, alert, now)
		d.notify(FeedAlertCreated, alert)
	} else {
		d.notify(FeedAlertUpdated, alert)
	}
	return alert, outcome, nil
}

// ResolveOnArrival closes every open alert for the pair after the medic is
// detected (or confirmed) back on site.
func (d *Deduplicator) ResolveOnArrival(ctx context.Context, medicID, bookingID string) ([]MedicAlert, error) {
	now := d.now().UTC()
	resolved, err := d.store.ResolveOpen(ctx, medicID, bookingID, ResolvedByAutoArrival, "medic back on site", now)
	if err != nil {
		return nil, fmt.Errorf("resolve alerts for medic %s: %w", medicID, err)
	}
	for _, a := range resolved {
		metrics.AlertsResolved.WithLabelValues(ResolvedByAutoArrival).Inc()
		d.publish(ctx, events.TypeAlertResolved, a, now)
		d.notify(FeedAlertResolved, a)
	}
	return resolved, nil
}

// Resolve is the operator action.
func (d *Deduplicator) Resolve(ctx context.Context, id uuid.UUID, note string) (MedicAlert, error) {
	now := d.now().UTC()
	a, err := d.store.Resolve(ctx, id, ResolvedByOperator, note, now)
	if err != nil {
		return MedicAlert{}, err
	}
	metrics.AlertsResolved.WithLabelValues(ResolvedByOperator).Inc()
	d.publish(ctx, events.TypeAlertResolved, a, now)
	d.notify(FeedAlertResolved, a)
	return a, nil
}

func (d *Deduplicator) breachMessage(b Breach) string {
	return d.printer.Sprintf("Medic left the site perimeter: %.0f m from the centre (radius %.0f m)",
		b.DistanceMeters, b.RadiusMeters)
}

func (d *Deduplicator) publish(ctx context.Context, eventType string, a MedicAlert, at time.Time) {
	e := events.New(eventType, a.MedicID, a.BookingID, a.SessionID.String(), at, a)
	if err := d.publisher.Publish(ctx, e); err != nil {
		log.Printf("[alerts] publish %s for %s failed: %v", eventType, a.ID, err)
	}
}

func (d *Deduplicator) notify(kind string, a MedicAlert) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(FeedMessage{Type: kind, Alert: a})
}
