package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const AlertTypeGeofenceBreach = "geofence_breach"

// Who closed an alert.
const (
	ResolvedByAutoArrival = "auto_arrival"
	ResolvedByOperator    = "operator"
)

// Metadata is stored as jsonb and refreshed in place while an alert is open.
type Metadata struct {
	DistanceMeters float64   `json:"distance_meters"`
	RadiusMeters   float64   `json:"radius_meters"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	FixID          string    `json:"fix_id"`
	BreachCount    int       `json:"breach_count"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// MedicAlert is an operator notification. Open alerts have a nil ResolvedAt.
type MedicAlert struct {
	ID             uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"id"`
	MedicID        string                       `gorm:"not null;index" json:"medic_id"`
	BookingID      string                       `gorm:"not null;index" json:"booking_id"`
	SessionID      uuid.UUID                    `gorm:"type:uuid" json:"session_id"`
	AlertType      string                       `gorm:"not null" json:"alert_type"`
	Severity       Severity                     `gorm:"not null" json:"severity"`
	Message        string                       `gorm:"not null" json:"message"`
	Metadata       datatypes.JSONType[Metadata] `gorm:"type:jsonb;not null" json:"metadata"`
	CreatedAt      time.Time                    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
	ResolvedAt     *time.Time                   `json:"resolved_at,omitempty"`
	ResolvedBy     *string                      `json:"resolved_by,omitempty"`
	ResolutionNote string                       `json:"resolution_note,omitempty"`
	DedupKey       string                       `gorm:"not null" json:"dedup_key"`
	DedupBucket    int64                        `gorm:"not null" json:"dedup_bucket"`
}

func (MedicAlert) TableName() string {
	return "alerts.medic_alerts"
}

func (a MedicAlert) Open() bool {
	return a.ResolvedAt == nil
}

// DedupKey identifies the alert stream for one medic on one booking.
func DedupKey(medicID, bookingID, alertType string) string {
	return fmt.Sprintf("%s|%s|%s", medicID, bookingID, alertType)
}

// Bucket returns the unix start of the window-sized bucket containing t.
func Bucket(t time.Time, window time.Duration) int64 {
	return t.UTC().Truncate(window).Unix()
}

// refresh folds a newer breach into an open alert. The message, severity
// and creation time stay as first raised.
func refresh(existing, candidate MedicAlert) MedicAlert {
	prev := existing.Metadata.Data()
	next := candidate.Metadata.Data()
	next.BreachCount = prev.BreachCount + 1

	existing.Metadata = datatypes.NewJSONType(next)
	existing.UpdatedAt = candidate.UpdatedAt
	if existing.SessionID == uuid.Nil {
		existing.SessionID = candidate.SessionID
	}
	return existing
}

// Outcome is the result of a conditional breach write.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeRefreshed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRefreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}
