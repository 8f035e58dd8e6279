package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the postgres connection, retrying while the database comes up,
// and stores it in DB. It exits the process when every attempt fails.
func Connect(dsn string) {
	if dsn == "" {
		log.Fatal("DATABASE_URL is empty")
	}

	conn, err := connectWithRetry(dsn, 5, 3*time.Second)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	DB = conn
	log.Println("Connected to database")
}

func connectWithRetry(dsn string, attempts int, delay time.Duration) (*gorm.DB, error) {
	// Surface slow queries; fix ingestion sits on the hot path.
	lg := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             100 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: lg})
		if err == nil {
			sqlDB, err := conn.DB()
			if err != nil {
				return nil, fmt.Errorf("get sql.DB: %w", err)
			}
			sqlDB.SetMaxOpenConns(20)
			sqlDB.SetMaxIdleConns(20)
			sqlDB.SetConnMaxLifetime(30 * time.Minute)
			return conn, nil
		}

		lastErr = err
		log.Printf("[db] connect attempt %d/%d failed: %v", i, attempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
}
