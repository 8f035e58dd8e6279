package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlreadyResolved = errors.New("alert already resolved")
)

// Filter narrows an alert listing. Zero values mean no restriction.
type Filter struct {
	Status     string // "open", "resolved" or ""
	MedicIDs   []string
	BookingIDs []string
	Limit      int
}

// Store persists alerts. UpsertBreach must be atomic per dedup key.
type Store interface {
	// UpsertBreach refreshes the newest open alert for candidate.DedupKey
	// created at or after since, or inserts candidate when there is none.
	UpsertBreach(ctx context.Context, candidate MedicAlert, since time.Time) (MedicAlert, Outcome, error)
	ResolveOpen(ctx context.Context, medicID, bookingID, by, note string, at time.Time) ([]MedicAlert, error)
	Resolve(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (MedicAlert, error)
	List(ctx context.Context, f Filter) ([]MedicAlert, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) UpsertBreach(ctx context.Context, candidate MedicAlert, since time.Time) (MedicAlert, Outcome, error) {
	var (
		out     MedicAlert
		outcome Outcome
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialises writers for this key until commit.
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, candidate.DedupKey).Error; err != nil {
			return fmt.Errorf("advisory lock %s: %w", candidate.DedupKey, err)
		}

		var existing MedicAlert
		err := tx.Where("dedup_key = ? AND resolved_at IS NULL AND created_at >= ?", candidate.DedupKey, since).
			Order("created_at DESC").
			First(&existing).Error
		switch {
		case err == nil:
			out, outcome = refresh(existing, candidate), OutcomeRefreshed
			return saveRefresh(tx, out)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("find open alert: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dedup_key"}, {Name: "dedup_bucket"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "resolved_at IS NULL"},
			}},
			DoNothing: true,
		}).Create(&candidate)
		if res.Error != nil {
			return fmt.Errorf("insert alert: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			out, outcome = candidate, OutcomeCreated
			return nil
		}

		// An open alert already holds this bucket, older than the window start.
		if err := tx.Where("dedup_key = ? AND dedup_bucket = ? AND resolved_at IS NULL",
			candidate.DedupKey, candidate.DedupBucket).First(&existing).Error; err != nil {
			return fmt.Errorf("load conflicting alert: %w", err)
		}
		out, outcome = refresh(existing, candidate), OutcomeRefreshed
		return saveRefresh(tx, out)
	})
	if err != nil {
		return MedicAlert{}, 0, err
	}
	return out, outcome, nil
}

func saveRefresh(tx *gorm.DB, a MedicAlert) error {
	err := tx.Model(&MedicAlert{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"metadata":   a.Metadata,
			"session_id": a.SessionID,
			"updated_at": a.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("refresh alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *GormStore) ResolveOpen(ctx context.Context, medicID, bookingID, by, note string, at time.Time) ([]MedicAlert, error) {
	var resolved []MedicAlert

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("medic_id = ? AND booking_id = ? AND resolved_at IS NULL", medicID, bookingID).
			Find(&resolved).Error; err != nil {
			return fmt.Errorf("find open alerts: %w", err)
		}
		if len(resolved) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(resolved))
		for i := range resolved {
			ids[i] = resolved[i].ID
			resolved[i].ResolvedAt = &at
			resolved[i].ResolvedBy = &by
			resolved[i].ResolutionNote = note
			resolved[i].UpdatedAt = at
		}

		return tx.Model(&MedicAlert{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"resolved_at":     at,
				"resolved_by":     by,
				"resolution_note": note,
				"updated_at":      at,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *GormStore) Resolve(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (MedicAlert, error) {
	var a MedicAlert

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("load alert %s: %w", id, err)
		}
		if !a.Open() {
			return ErrAlreadyResolved
		}

		a.ResolvedAt = &at
		a.ResolvedBy = &by
		a.ResolutionNote = note
		a.UpdatedAt = at
		return tx.Model(&a).Select("resolved_at", "resolved_by", "resolution_note", "updated_at").Updates(&a).Error
	})
	if err != nil {
		return MedicAlert{}, err
	}
	return a, nil
}

// List returns open alerts first, then by severity and newest first.
func (s *GormStore) List(ctx context.Context, f Filter) ([]MedicAlert, error) {
	q := s.db.WithContext(ctx).Model(&MedicAlert{})

	switch f.Status {
	case "open":
		q = q.Where("resolved_at IS NULL")
	case "resolved":
		q = q.Where("resolved_at IS NOT NULL")
	}
	if len(f.MedicIDs) > 0 {
		q = q.Where("medic_id = ANY(?)", pq.Array(f.MedicIDs))
	}
	if len(f.BookingIDs) > 0 {
		q = q.Where("booking_id = ANY(?)", pq.Array(f.BookingIDs))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []MedicAlert
	err := q.Order(`(resolved_at IS NULL) DESC`).
		Order(`CASE severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC`).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}
