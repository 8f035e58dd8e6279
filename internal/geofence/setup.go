package geofence

import (
	"log"

	"github.com/SiteMedic/SM-Backend/internal/db"
)

// Init makes sure the scheduling.geofences table exists. Production databases
// get it from the scheduling component; local and staging databases rely on
// this plus cmd/geofence-import.
func Init() {
	if err := db.EnsureSchema(db.DB, "scheduling"); err != nil {
		log.Fatal("Failed to ensure schema scheduling: ", err)
	}

	if err := db.EnsureUUIDExtension(db.DB); err != nil {
		log.Fatal("Failed to enable uuid-ossp extension:", err)
	}

	if err := db.DB.AutoMigrate(&Geofence{}); err != nil {
		log.Fatal("Failed to auto-migrate geofences: ", err)
	}

	// At most one active geofence per booking.
	if err := db.DB.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS geofences_one_active_per_booking
		ON scheduling.geofences (booking_id) WHERE active;
	`).Error; err != nil {
		log.Fatal("Failed to create geofences_one_active_per_booking", err)
	}

	log.Println("Geofence module initialized")
}
