package tracking

import (
	"time"

	"github.com/SiteMedic/SM-Backend/internal/geo"
	"github.com/google/uuid"
)

// How a session reached on_site.
const (
	SourceAuto     = "auto"
	SourceOperator = "operator"
)

// Classification results.
const (
	ResultInside  = "inside"
	ResultOutside = "outside"
)

// TrackingSession is one medic's monitoring window for one booking. At most
// one session per (medic, booking) is active.
type TrackingSession struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MedicID        string     `gorm:"not null;index" json:"medic_id"`
	BookingID      string     `gorm:"not null;index" json:"booking_id"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	Active         bool       `gorm:"not null;default:true" json:"active"`
	OnSite         bool       `gorm:"not null;default:false" json:"on_site"`
	OnSiteSource   string     `json:"on_site_source,omitempty"`
	InsideGeofence bool       `gorm:"not null;default:false" json:"inside_geofence"`
	QueueDepth     int        `gorm:"not null;default:0" json:"queue_depth"`
	BatteryLevel   *float64   `json:"battery_level,omitempty"`
	LastFixAt      *time.Time `json:"last_fix_at,omitempty"`
	SyncDegraded   bool       `gorm:"not null;default:false" json:"sync_degraded"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (TrackingSession) TableName() string {
	return "tracking.sessions"
}

// PositionFix is immutable once stored.
type PositionFix struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID `gorm:"type:uuid;not null;index:idx_fix_session_order,priority:1" json:"session_id"`
	MedicID        string    `gorm:"not null" json:"medic_id"`
	BookingID      string    `gorm:"not null" json:"booking_id"`
	ClientSeq      int64     `gorm:"not null;index:idx_fix_session_order,priority:3" json:"client_seq"`
	IdempotencyKey string    `gorm:"not null;uniqueIndex" json:"idempotency_key"`
	RecordedAt     time.Time `gorm:"not null;index:idx_fix_session_order,priority:2" json:"recorded_at"`
	ReceivedAt     time.Time `gorm:"not null" json:"received_at"`
	Lat            float64   `gorm:"not null" json:"lat"`
	Lng            float64   `gorm:"not null" json:"lng"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	BatteryLevel   *float64  `json:"battery_level,omitempty"`
	LowQuality     bool      `gorm:"not null" json:"low_quality"`
}

func (PositionFix) TableName() string {
	return "tracking.position_fixes"
}

func (f PositionFix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

// FixClassification is keyed by fix id, so a fix is classified at most once.
type FixClassification struct {
	FixID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"fix_id"`
	SessionID      uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	GeofenceID     uuid.UUID `gorm:"type:uuid;not null" json:"geofence_id"`
	DistanceMeters float64   `gorm:"not null" json:"distance_meters"`
	RadiusMeters   float64   `gorm:"not null" json:"radius_meters"`
	Result         string    `gorm:"not null" json:"result"`
	ClassifiedAt   time.Time `gorm:"not null" json:"classified_at"`
}

func (FixClassification) TableName() string {
	return "tracking.fix_classifications"
}

func (c FixClassification) Inside() bool {
	return c.Result == ResultInside
}

// DeviceReport carries the device-side counters that ride along with a fix.
type DeviceReport struct {
	QueueDepth   int
	BatteryLevel *float64
	LastFixAt    time.Time
	SyncDegraded bool
	// Inside is nil when the fix produced no fresh classification.
	Inside *bool
}
