package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/geofence"
	"github.com/SiteMedic/SM-Backend/internal/metrics"
)

// Detector classifies accepted fixes against the booking's active geofence.
// It applies no smoothing; presence hysteresis, if any, belongs upstream.
type Detector struct {
	geofences geofence.Directory
	store     Store
	now       func() time.Time
}

func NewDetector(geofences geofence.Directory, store Store) *Detector {
	return &Detector{geofences: geofences, store: store, now: time.Now}
}

// Classify writes the classification for fix and returns it. It returns
// geofence.ErrNoActiveGeofence (wrapped) when the booking has no perimeter.
func (d *Detector) Classify(ctx context.Context, fix PositionFix) (FixClassification, error) {
	if fix.LowQuality {
		return FixClassification{}, ErrLowQualityFix
	}

	g, err := d.geofences.ActiveForBooking(ctx, fix.BookingID)
	if err != nil {
		return FixClassification{}, fmt.Errorf("classify fix %s: %w", fix.ID, err)
	}

	distance, inside := g.Classify(fix.Point())
	result := ResultOutside
	if inside {
		result = ResultInside
	}

	c, err := d.store.SaveClassification(ctx, FixClassification{
		FixID:          fix.ID,
		SessionID:      fix.SessionID,
		GeofenceID:     g.ID,
		DistanceMeters: distance,
		RadiusMeters:   g.RadiusMeters,
		Result:         result,
		ClassifiedAt:   d.now().UTC(),
	})
	if err != nil {
		return FixClassification{}, err
	}

	metrics.Classifications.WithLabelValues(c.Result).Inc()
	return c, nil
}
