package tracking

import (
	"context"
	"log"

	"github.com/SiteMedic/SM-Backend/internal/alerts"
	"github.com/SiteMedic/SM-Backend/internal/events"
	"github.com/SiteMedic/SM-Backend/internal/metrics"
	"github.com/google/uuid"
)

type PresenceState string

const (
	StateTraveling PresenceState = "traveling"
	StateOnSite    PresenceState = "on_site"
)

func stateOf(onSite bool) PresenceState {
	if onSite {
		return StateOnSite
	}
	return StateTraveling
}

// nextState is the automatic edge for one classification. A single outside
// fix is enough to leave on_site.
func nextState(from PresenceState, result string) (PresenceState, bool) {
	switch {
	case from == StateTraveling && result == ResultInside:
		return StateOnSite, true
	case from == StateOnSite && result == ResultOutside:
		return StateTraveling, true
	}
	return from, false
}

// AlertSink is the part of the alert deduplicator presence changes drive.
type AlertSink interface {
	RaiseBreach(ctx context.Context, b alerts.Breach) (alerts.MedicAlert, alerts.Outcome, error)
	ResolveOnArrival(ctx context.Context, medicID, bookingID string) ([]alerts.MedicAlert, error)
}

// applyClassification runs the state machine and the alert side effects for
// a fresh classification on an active session. It returns the on-site flag
// after the fix. Side-effect failures are logged; the fix is already stored.
func (s *Service) applyClassification(ctx context.Context, sess TrackingSession, fix PositionFix, c FixClassification) bool {
	onSite := sess.OnSite
	from := stateOf(sess.OnSite)

	if to, changed := nextState(from, c.Result); changed {
		ok, err := s.store.SetPresence(ctx, sess.ID, from == StateOnSite, to == StateOnSite, SourceAuto, s.now().UTC())
		switch {
		case err != nil:
			log.Printf("[tracking] presence update for session %s failed: %v", sess.ID, err)
		case ok:
			onSite = to == StateOnSite
			s.afterTransition(ctx, sess, to, SourceAuto, fix.ID)
		default:
			if cur, err := s.store.SessionByID(ctx, sess.ID); err == nil {
				onSite = cur.OnSite
			}
		}
	}

	if c.Result == ResultOutside {
		_, _, err := s.alerts.RaiseBreach(ctx, alerts.Breach{
			MedicID:        sess.MedicID,
			BookingID:      sess.BookingID,
			SessionID:      sess.ID,
			FixID:          fix.ID,
			Latitude:       fix.Lat,
			Longitude:      fix.Lng,
			DistanceMeters: c.DistanceMeters,
			RadiusMeters:   c.RadiusMeters,
		})
		if err != nil {
			log.Printf("[tracking] breach alert for session %s failed: %v", sess.ID, err)
		}
	}

	return onSite
}

func (s *Service) afterTransition(ctx context.Context, sess TrackingSession, to PresenceState, source string, fixID uuid.UUID) {
	metrics.PresenceTransitions.WithLabelValues(string(to), source).Inc()
	log.Printf("[tracking] medic=%s booking=%s -> %s (%s)", sess.MedicID, sess.BookingID, to, source)

	eventType := events.TypePresenceDeparted
	if to == StateOnSite {
		eventType = events.TypePresenceArrived
	}
	data := map[string]string{"source": source}
	if fixID != uuid.Nil {
		data["fix_id"] = fixID.String()
	}
	e := events.New(eventType, sess.MedicID, sess.BookingID, sess.ID.String(), s.now(), data)
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Printf("[tracking] publish %s failed: %v", eventType, err)
	}

	if to == StateOnSite {
		if _, err := s.alerts.ResolveOnArrival(ctx, sess.MedicID, sess.BookingID); err != nil {
			log.Printf("[tracking] resolving alerts on arrival for session %s failed: %v", sess.ID, err)
		}
	}
}

// MarkArrived forces the caller's active session on site, recorded as
// operator-confirmed.
func (s *Service) MarkArrived(ctx context.Context, medicID string) (TrackingSession, error) {
	return s.forcePresence(ctx, medicID, StateOnSite)
}

// MarkDeparture forces the caller's active session back to traveling.
func (s *Service) MarkDeparture(ctx context.Context, medicID string) (TrackingSession, error) {
	return s.forcePresence(ctx, medicID, StateTraveling)
}

func (s *Service) forcePresence(ctx context.Context, medicID string, to PresenceState) (TrackingSession, error) {
	sess, err := s.store.ActiveSessionForMedic(ctx, medicID)
	if err != nil {
		return TrackingSession{}, err
	}

	conflict := ErrNotOnSite
	if to == StateOnSite {
		conflict = ErrAlreadyOnSite
	}
	if stateOf(sess.OnSite) == to {
		return TrackingSession{}, conflict
	}

	ok, err := s.store.SetPresence(ctx, sess.ID, !sess.OnSite, to == StateOnSite, SourceOperator, s.now().UTC())
	if err != nil {
		return TrackingSession{}, err
	}

	cur, err := s.store.SessionByID(ctx, sess.ID)
	if err != nil {
		return TrackingSession{}, err
	}
	if !ok {
		// Lost a race with a fix or a stop.
		if !cur.Active {
			return TrackingSession{}, ErrNoActiveSession
		}
		return TrackingSession{}, conflict
	}

	s.afterTransition(ctx, cur, to, SourceOperator, uuid.Nil)
	s.invalidate(ctx, medicID)
	return cur, nil
}
