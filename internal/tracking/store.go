package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists sessions, fixes and classifications.
type Store interface {
	// StartSession returns the active session for the pair, creating it with
	// id when none is active. created reports whether a row was inserted.
	StartSession(ctx context.Context, id uuid.UUID, medicID, bookingID string, at time.Time) (s TrackingSession, created bool, err error)
	StopSession(ctx context.Context, id uuid.UUID, at time.Time) (TrackingSession, error)
	SessionByID(ctx context.Context, id uuid.UUID) (TrackingSession, error)
	ActiveSessionForMedic(ctx context.Context, medicID string) (TrackingSession, error)
	LatestSessionForPair(ctx context.Context, medicID, bookingID string) (TrackingSession, error)

	// InsertFix stores fix unless its idempotency key is known, in which
	// case the stored fix is returned with duplicate set.
	InsertFix(ctx context.Context, fix PositionFix) (stored PositionFix, duplicate bool, err error)
	FixesForSession(ctx context.Context, sessionID uuid.UUID) ([]PositionFix, error)

	// SaveClassification inserts once per fix and returns whichever row won.
	SaveClassification(ctx context.Context, c FixClassification) (FixClassification, error)
	ClassificationForFix(ctx context.Context, fixID uuid.UUID) (FixClassification, bool, error)

	// SetPresence moves an active session from one on-site value to another.
	// It reports false when the session was not in the from state.
	SetPresence(ctx context.Context, sessionID uuid.UUID, from, to bool, source string, at time.Time) (bool, error)
	RecordDeviceReport(ctx context.Context, sessionID uuid.UUID, r DeviceReport, at time.Time) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) StartSession(ctx context.Context, id uuid.UUID, medicID, bookingID string, at time.Time) (TrackingSession, bool, error) {
	sess := TrackingSession{
		ID:        id,
		MedicID:   medicID,
		BookingID: bookingID,
		StartedAt: at,
		Active:    true,
		CreatedAt: at,
		UpdatedAt: at,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "medic_id"}, {Name: "booking_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "active"},
		}},
		DoNothing: true,
	}).Create(&sess)
	if res.Error != nil {
		return TrackingSession{}, false, fmt.Errorf("start session: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return sess, true, nil
	}

	var existing TrackingSession
	if err := s.db.WithContext(ctx).
		Where("medic_id = ? AND booking_id = ? AND active", medicID, bookingID).
		First(&existing).Error; err != nil {
		return TrackingSession{}, false, fmt.Errorf("load active session: %w", err)
	}
	return existing, false, nil
}

func (s *GormStore) StopSession(ctx context.Context, id uuid.UUID, at time.Time) (TrackingSession, error) {
	res := s.db.WithContext(ctx).Model(&TrackingSession{}).
		Where("id = ? AND active", id).
		Updates(map[string]any{
			"active":     false,
			"stopped_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return TrackingSession{}, fmt.Errorf("stop session %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return TrackingSession{}, ErrNoActiveSession
	}
	return s.SessionByID(ctx, id)
}

func (s *GormStore) SessionByID(ctx context.Context, id uuid.UUID) (TrackingSession, error) {
	var sess TrackingSession
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrackingSession{}, ErrSessionNotFound
	}
	if err != nil {
		return TrackingSession{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

func (s *GormStore) ActiveSessionForMedic(ctx context.Context, medicID string) (TrackingSession, error) {
	var sess TrackingSession
	err := s.db.WithContext(ctx).
		Where("medic_id = ? AND active", medicID).
		Order("started_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrackingSession{}, ErrNoActiveSession
	}
	if err != nil {
		return TrackingSession{}, fmt.Errorf("load active session for %s: %w", medicID, err)
	}
	return sess, nil
}

func (s *GormStore) LatestSessionForPair(ctx context.Context, medicID, bookingID string) (TrackingSession, error) {
	var sess TrackingSession
	err := s.db.WithContext(ctx).
		Where("medic_id = ? AND booking_id = ?", medicID, bookingID).
		Order("active DESC, started_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrackingSession{}, ErrNoActiveSession
	}
	if err != nil {
		return TrackingSession{}, fmt.Errorf("load session for %s/%s: %w", medicID, bookingID, err)
	}
	return sess, nil
}

func (s *GormStore) InsertFix(ctx context.Context, fix PositionFix) (PositionFix, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&fix)
	if res.Error != nil {
		return PositionFix{}, false, fmt.Errorf("insert fix %s: %w", fix.IdempotencyKey, res.Error)
	}
	if res.RowsAffected == 1 {
		return fix, false, nil
	}

	var stored PositionFix
	if err := s.db.WithContext(ctx).
		Where("idempotency_key = ?", fix.IdempotencyKey).
		First(&stored).Error; err != nil {
		return PositionFix{}, false, fmt.Errorf("load duplicate fix %s: %w", fix.IdempotencyKey, err)
	}
	return stored, true, nil
}

func (s *GormStore) FixesForSession(ctx context.Context, sessionID uuid.UUID) ([]PositionFix, error) {
	var fixes []PositionFix
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("recorded_at ASC, client_seq ASC").
		Find(&fixes).Error
	if err != nil {
		return nil, fmt.Errorf("list fixes for %s: %w", sessionID, err)
	}
	return fixes, nil
}

func (s *GormStore) SaveClassification(ctx context.Context, c FixClassification) (FixClassification, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fix_id"}},
		DoNothing: true,
	}).Create(&c)
	if res.Error != nil {
		return FixClassification{}, fmt.Errorf("save classification for %s: %w", c.FixID, res.Error)
	}
	if res.RowsAffected == 1 {
		return c, nil
	}

	existing, _, err := s.ClassificationForFix(ctx, c.FixID)
	return existing, err
}

func (s *GormStore) ClassificationForFix(ctx context.Context, fixID uuid.UUID) (FixClassification, bool, error) {
	var c FixClassification
	err := s.db.WithContext(ctx).First(&c, "fix_id = ?", fixID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FixClassification{}, false, nil
	}
	if err != nil {
		return FixClassification{}, false, fmt.Errorf("load classification for %s: %w", fixID, err)
	}
	return c, true, nil
}

func (s *GormStore) SetPresence(ctx context.Context, sessionID uuid.UUID, from, to bool, source string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&TrackingSession{}).
		Where("id = ? AND active AND on_site = ?", sessionID, from).
		Updates(map[string]any{
			"on_site":        to,
			"on_site_source": source,
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("set presence on %s: %w", sessionID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RecordDeviceReport(ctx context.Context, sessionID uuid.UUID, r DeviceReport, at time.Time) error {
	updates := map[string]any{
		"queue_depth":   r.QueueDepth,
		"sync_degraded": r.SyncDegraded,
		"last_fix_at":   gorm.Expr("GREATEST(COALESCE(last_fix_at, ?), ?)", r.LastFixAt, r.LastFixAt),
		"updated_at":    at,
	}
	if r.BatteryLevel != nil {
		updates["battery_level"] = *r.BatteryLevel
	}
	if r.Inside != nil {
		updates["inside_geofence"] = *r.Inside
	}

	err := s.db.WithContext(ctx).Model(&TrackingSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("record device report on %s: %w", sessionID, err)
	}
	return nil
}
