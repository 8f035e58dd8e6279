package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/events"
	"github.com/SiteMedic/SM-Backend/internal/geo"
	"github.com/SiteMedic/SM-Backend/internal/geofence"
	"github.com/SiteMedic/SM-Backend/internal/metrics"
	"github.com/google/uuid"
)

// Classification values reported back to the device.
const (
	ClassInside       = ResultInside
	ClassOutside      = ResultOutside
	ClassLowQuality   = "low_quality"
	ClassUnclassified = "unclassified"
)

// FixRequest is the ingestion payload sent by the device sync client.
type FixRequest struct {
	SessionID      string    `json:"sessionId"`
	MedicID        string    `json:"medicId"`
	BookingID      string    `json:"bookingId"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Accuracy       *float64  `json:"accuracy"`
	BatteryLevel   *float64  `json:"batteryLevel"`
	ClientSeq      int64     `json:"clientSeq"`
	IdempotencyKey string    `json:"idempotencyKey"`
	RecordedAt     time.Time `json:"recordedAt"`
	QueueDepth     int       `json:"queueDepth"`
	SyncDegraded   bool      `json:"syncDegraded"`
}

func (r FixRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.IdempotencyKey) == "":
		return fmt.Errorf("%w: idempotencyKey is required", ErrInvalidFix)
	case len(r.IdempotencyKey) > 128:
		return fmt.Errorf("%w: idempotencyKey too long", ErrInvalidFix)
	case r.SessionID == "" && r.BookingID == "":
		return fmt.Errorf("%w: sessionId or bookingId is required", ErrInvalidFix)
	case !(geo.Point{Lat: r.Lat, Lng: r.Lng}).Valid():
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidFix)
	case r.Accuracy != nil && *r.Accuracy < 0:
		return fmt.Errorf("%w: negative accuracy", ErrInvalidFix)
	case r.BatteryLevel != nil && (*r.BatteryLevel < 0 || *r.BatteryLevel > 100):
		return fmt.Errorf("%w: batteryLevel must be 0-100", ErrInvalidFix)
	case r.RecordedAt.IsZero():
		return fmt.Errorf("%w: recordedAt is required", ErrInvalidFix)
	case r.QueueDepth < 0 || r.ClientSeq < 0:
		return fmt.Errorf("%w: negative counter", ErrInvalidFix)
	}
	return nil
}

// IngestResult acknowledges one fix, keyed by its idempotency key.
type IngestResult struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	FixID          uuid.UUID `json:"fixId"`
	Duplicate      bool      `json:"duplicate"`
	Classification string    `json:"classification"`
	OnSite         bool      `json:"onSite"`
}

// StatusCache holds status read models keyed by medic id.
type StatusCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

type Options struct {
	MaxAccuracyMeters float64
	Publisher         events.Publisher
	Cache             StatusCache
}

// Service is the server-side pipeline: ingestion, breach detection,
// presence and the status read model.
type Service struct {
	store       Store
	detector    *Detector
	alerts      AlertSink
	publisher   events.Publisher
	cache       StatusCache
	maxAccuracy float64
	now         func() time.Time
}

func NewService(store Store, geofences geofence.Directory, sink AlertSink, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.MaxAccuracyMeters <= 0 {
		opts.MaxAccuracyMeters = 50
	}
	return &Service{
		store:       store,
		detector:    NewDetector(geofences, store),
		alerts:      sink,
		publisher:   opts.Publisher,
		cache:       opts.Cache,
		maxAccuracy: opts.MaxAccuracyMeters,
		now:         time.Now,
	}
}

// StartSession arms tracking for the pair. An already-active pair returns
// the existing session. requestedID lets a device keep the id it generated
// offline; empty means the server picks one.
func (s *Service) StartSession(ctx context.Context, medicID, bookingID, requestedID string) (TrackingSession, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return TrackingSession{}, fmt.Errorf("%w: bookingId is required", ErrInvalidRequest)
	}

	id := uuid.New()
	if requestedID != "" {
		parsed, err := uuid.Parse(requestedID)
		if err != nil {
			return TrackingSession{}, fmt.Errorf("%w: sessionId must be a uuid", ErrInvalidRequest)
		}
		id = parsed
	}

	now := s.now().UTC()
	sess, created, err := s.store.StartSession(ctx, id, medicID, bookingID, now)
	if err != nil {
		return TrackingSession{}, err
	}

	if created {
		log.Printf("[tracking] session %s started medic=%s booking=%s", sess.ID, medicID, bookingID)
		e := events.New(events.TypeSessionStarted, medicID, bookingID, sess.ID.String(), now, nil)
		if err := s.publisher.Publish(ctx, e); err != nil {
			log.Printf("[tracking] publish session.started failed: %v", err)
		}
		s.invalidate(ctx, medicID)
	}
	return sess, nil
}

// StopSession deactivates the caller's session. Queued fixes for it are
// still accepted afterwards but no longer drive presence or alerts.
func (s *Service) StopSession(ctx context.Context, medicID, sessionID string) (TrackingSession, error) {
	var (
		sess TrackingSession
		err  error
	)
	if sessionID != "" {
		id, perr := uuid.Parse(sessionID)
		if perr != nil {
			return TrackingSession{}, fmt.Errorf("%w: sessionId must be a uuid", ErrInvalidRequest)
		}
		sess, err = s.store.SessionByID(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			return TrackingSession{}, ErrNoActiveSession
		}
		if err == nil && sess.MedicID != medicID {
			return TrackingSession{}, ErrSessionMismatch
		}
	} else {
		sess, err = s.store.ActiveSessionForMedic(ctx, medicID)
	}
	if err != nil {
		return TrackingSession{}, err
	}

	now := s.now().UTC()
	stopped, err := s.store.StopSession(ctx, sess.ID, now)
	if err != nil {
		return TrackingSession{}, err
	}

	log.Printf("[tracking] session %s stopped medic=%s", stopped.ID, medicID)
	e := events.New(events.TypeSessionStopped, medicID, stopped.BookingID, stopped.ID.String(), now, nil)
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Printf("[tracking] publish session.stopped failed: %v", err)
	}
	s.invalidate(ctx, medicID)
	return stopped, nil
}

// Ingest stores one fix and, the first time it is seen, classifies it and
// drives presence and alerting. Re-sending a key that was already processed
// is a no-op that returns the original acknowledgement.
func (s *Service) Ingest(ctx context.Context, callerMedicID string, req FixRequest) (IngestResult, error) {
	if err := req.Validate(); err != nil {
		return IngestResult{}, err
	}
	if req.MedicID != "" && req.MedicID != callerMedicID {
		return IngestResult{}, ErrSessionMismatch
	}

	sess, err := s.resolveSession(ctx, callerMedicID, req)
	if err != nil {
		return IngestResult{}, err
	}

	now := s.now().UTC()
	stored, duplicate, err := s.store.InsertFix(ctx, PositionFix{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		MedicID:        sess.MedicID,
		BookingID:      sess.BookingID,
		ClientSeq:      req.ClientSeq,
		IdempotencyKey: req.IdempotencyKey,
		RecordedAt:     req.RecordedAt.UTC(),
		ReceivedAt:     now,
		Lat:            req.Lat,
		Lng:            req.Lng,
		AccuracyMeters: req.Accuracy,
		BatteryLevel:   req.BatteryLevel,
		LowQuality:     s.lowQuality(req.Accuracy),
	})
	if err != nil {
		return IngestResult{}, err
	}
	if duplicate && (stored.MedicID != sess.MedicID || stored.BookingID != sess.BookingID) {
		return IngestResult{}, ErrSessionMismatch
	}

	quality := "accepted"
	if stored.LowQuality {
		quality = ClassLowQuality
	}
	metrics.FixesIngested.WithLabelValues(quality, strconv.FormatBool(duplicate)).Inc()

	res := IngestResult{
		IdempotencyKey: stored.IdempotencyKey,
		FixID:          stored.ID,
		Duplicate:      duplicate,
		Classification: ClassUnclassified,
		OnSite:         sess.OnSite,
	}
	if stored.LowQuality {
		res.Classification = ClassLowQuality
	}

	if duplicate {
		if stored.LowQuality {
			return res, nil
		}
		c, found, err := s.store.ClassificationForFix(ctx, stored.ID)
		if err != nil {
			return IngestResult{}, err
		}
		if found {
			res.Classification = c.Result
			return res, nil
		}
		// Stored on an earlier attempt that failed before classifying.
	}

	// Device time orders fixes within a session; an older fix is kept but
	// does not move presence.
	stale := sess.LastFixAt != nil && stored.RecordedAt.Before(*sess.LastFixAt)

	report := DeviceReport{
		QueueDepth:   req.QueueDepth,
		BatteryLevel: req.BatteryLevel,
		LastFixAt:    stored.RecordedAt,
		SyncDegraded: req.SyncDegraded,
	}

	if !stored.LowQuality {
		c, err := s.detector.Classify(ctx, stored)
		switch {
		case errors.Is(err, geofence.ErrNoActiveGeofence):
		case err != nil:
			return IngestResult{}, err
		default:
			res.Classification = c.Result
			if !stale {
				inside := c.Inside()
				report.Inside = &inside
				if sess.Active {
					res.OnSite = s.applyClassification(ctx, sess, stored, c)
				}
			}
		}
	}

	if err := s.store.RecordDeviceReport(ctx, sess.ID, report, now); err != nil {
		log.Printf("[tracking] %v", err)
	}
	s.invalidate(ctx, sess.MedicID)
	return res, nil
}

// resolveSession finds the session a fix belongs to. A session id unknown to
// the server falls back to the pair's newest session.
func (s *Service) resolveSession(ctx context.Context, medicID string, req FixRequest) (TrackingSession, error) {
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return TrackingSession{}, fmt.Errorf("%w: sessionId must be a uuid", ErrInvalidFix)
		}
		sess, err := s.store.SessionByID(ctx, id)
		switch {
		case err == nil:
			if sess.MedicID != medicID || (req.BookingID != "" && sess.BookingID != req.BookingID) {
				return TrackingSession{}, ErrSessionMismatch
			}
			return sess, nil
		case !errors.Is(err, ErrSessionNotFound):
			return TrackingSession{}, err
		}
	}

	if req.BookingID == "" {
		return TrackingSession{}, ErrNoActiveSession
	}
	return s.store.LatestSessionForPair(ctx, medicID, req.BookingID)
}

func (s *Service) lowQuality(accuracy *float64) bool {
	return accuracy == nil || *accuracy > s.maxAccuracy
}

func (s *Service) invalidate(ctx context.Context, medicID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, medicID); err != nil {
		log.Printf("[tracking] status cache invalidate for %s: %v", medicID, err)
	}
}
