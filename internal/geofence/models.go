package geofence

import (
	"time"

	"github.com/SiteMedic/SM-Backend/internal/geo"
	"github.com/google/uuid"
)

// Geofence is the circular perimeter a medic is authorized to work inside for
// one booking. Rows are owned by the scheduling component; tracking only reads
// them.
type Geofence struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BookingID    string    `gorm:"size:64;not null;index" json:"booking_id"`
	Label        string    `json:"label"`
	CenterLat    float64   `gorm:"not null" json:"center_lat"`
	CenterLng    float64   `gorm:"not null" json:"center_lng"`
	RadiusMeters float64   `gorm:"not null" json:"radius_meters"`
	Active       bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Geofence) TableName() string {
	return "scheduling.geofences"
}

func (g Geofence) Center() geo.Point {
	return geo.Point{Lat: g.CenterLat, Lng: g.CenterLng}
}

// Classify measures p against the perimeter. The boundary counts as inside.
func (g Geofence) Classify(p geo.Point) (distance float64, inside bool) {
	return geo.Within(g.Center(), p, g.RadiusMeters)
}
