package tracking

import (
	"log"

	"github.com/SiteMedic/SM-Backend/internal/db"
)

func Init() {
	if err := db.EnsureSchema(db.DB, "tracking"); err != nil {
		log.Fatal("Failed to ensure schema tracking: ", err)
	}

	if err := db.DB.AutoMigrate(
		&TrackingSession{},
		&PositionFix{},
		&FixClassification{},
	); err != nil {
		log.Fatal("Failed to auto-migrate tracking tables: ", err)
	}

	// One active session per medic and booking.
	if err := db.DB.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_pair
		ON tracking.sessions (medic_id, booking_id)
		WHERE active;
	`).Error; err != nil {
		log.Fatal("Failed to create sessions_one_active_per_pair: ", err)
	}

	log.Println("Tracking module initialized")
}
