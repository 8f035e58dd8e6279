package alerts

import (
	"log"

	"github.com/SiteMedic/SM-Backend/internal/db"
)

func Init() {
	if err := db.EnsureSchema(db.DB, "alerts"); err != nil {
		log.Fatal("Failed to ensure schema alerts: ", err)
	}

	if err := db.DB.AutoMigrate(&MedicAlert{}); err != nil {
		log.Fatal("Failed to auto-migrate alerts tables: ", err)
	}

	// At most one open alert per dedup key and bucket.
	if err := db.DB.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS medic_alerts_open_dedup
		ON alerts.medic_alerts (dedup_key, dedup_bucket)
		WHERE resolved_at IS NULL;
	`).Error; err != nil {
		log.Fatal("Failed to create medic_alerts_open_dedup: ", err)
	}

	if err := db.DB.Exec(`
		CREATE INDEX IF NOT EXISTS medic_alerts_key_created
		ON alerts.medic_alerts (dedup_key, created_at DESC);
	`).Error; err != nil {
		log.Fatal("Failed to create medic_alerts_key_created: ", err)
	}

	log.Println("Alerts module initialized")
}
