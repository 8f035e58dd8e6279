package tracking

import (
	"context"
	"errors"
	"log"
	"time"
)

// Status is the read model polled by the operator banner.
type Status struct {
	IsTracking     bool       `json:"isTracking"`
	InsideGeofence bool       `json:"insideGeofence"`
	OnSite         bool       `json:"onSite"`
	OnSiteSource   string     `json:"onSiteSource,omitempty"`
	QueueSize      int        `json:"queueSize"`
	BatteryLevel   *float64   `json:"batteryLevel"`
	SyncDegraded   bool       `json:"syncDegraded"`
	SessionID      string     `json:"sessionId,omitempty"`
	BookingID      string     `json:"bookingId,omitempty"`
	LastFixAt      *time.Time `json:"lastFixAt,omitempty"`
}

func statusOf(sess TrackingSession) Status {
	return Status{
		IsTracking:     sess.Active,
		InsideGeofence: sess.InsideGeofence,
		OnSite:         sess.OnSite,
		OnSiteSource:   sess.OnSiteSource,
		QueueSize:      sess.QueueDepth,
		BatteryLevel:   sess.BatteryLevel,
		SyncDegraded:   sess.SyncDegraded,
		SessionID:      sess.ID.String(),
		BookingID:      sess.BookingID,
		LastFixAt:      sess.LastFixAt,
	}
}

// Status returns the caller's current status. A medic with no active
// session gets a zero status rather than an error.
func (s *Service) Status(ctx context.Context, medicID string) (Status, error) {
	if s.cache != nil {
		var cached Status
		hit, err := s.cache.Get(ctx, medicID, &cached)
		if err != nil {
			log.Printf("[tracking] status cache read for %s: %v", medicID, err)
		}
		if hit {
			return cached, nil
		}
	}

	var st Status
	sess, err := s.store.ActiveSessionForMedic(ctx, medicID)
	switch {
	case errors.Is(err, ErrNoActiveSession):
	case err != nil:
		return Status{}, err
	default:
		st = statusOf(sess)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, medicID, st); err != nil {
			log.Printf("[tracking] status cache write for %s: %v", medicID, err)
		}
	}
	return st, nil
}
