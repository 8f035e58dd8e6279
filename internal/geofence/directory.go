package geofence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNoActiveGeofence means the booking has no active perimeter. This is the
// normal state outside shift hours, not a failure to retry.
var ErrNoActiveGeofence = errors.New("no active geofence for booking")

// Directory is the read side of the scheduling component's geofences.
type Directory interface {
	ActiveForBooking(ctx context.Context, bookingID string) (Geofence, error)
}

// GormDirectory reads geofences straight from postgres.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ActiveForBooking(ctx context.Context, bookingID string) (Geofence, error) {
	var g Geofence
	err := d.db.WithContext(ctx).
		Where("booking_id = ? AND active = ?", bookingID, true).
		Order("updated_at DESC").
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Geofence{}, ErrNoActiveGeofence
	}
	if err != nil {
		return Geofence{}, fmt.Errorf("geofence lookup for booking %s: %w", bookingID, err)
	}
	return g, nil
}
