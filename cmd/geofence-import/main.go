package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

var (
	filePath    = flag.String("file", "", "Path to the geofence YAML file (required)")
	dsn         = flag.String("dsn", "", "Postgres DSN (default: env DATABASE_URL)")
	dryRun      = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	advisoryKey = flag.Int64("advisory-lock", 0, "Optional Postgres advisory lock key. 0 = disabled")
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()

	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		fatalf("read %s: %v", *filePath, err)
	}
	fences, err := parseFile(raw)
	if err != nil {
		fatalf("geofence file invalid: %v", err)
	}
	fmt.Printf("Loaded %d geofences from %s\n", len(fences), *filePath)

	if *dryRun {
		for _, f := range fences {
			fmt.Printf("  %-20s %-30s (%.6f, %.6f) r=%.0fm\n", f.BookingID, f.Label, f.Center.Lat, f.Center.Lng, f.RadiusMeters)
		}
		fmt.Println("Dry run complete. No changes made.")
		return
	}
	if *dsn == "" {
		fatalf("no DSN: pass --dsn or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if *advisoryKey != 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, *advisoryKey); err != nil {
			fatalf("advisory lock: %v", err)
		}
	}

	inserted, updated, err := upsertAll(ctx, tx, fences)
	if err != nil {
		fatalf("upsert: %v", err)
	}

	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Printf("Import complete: %d inserted, %d updated\n", inserted, updated)
}

// upsertAll writes each geofence as the active perimeter of its booking.
func upsertAll(ctx context.Context, tx *sql.Tx, fences []Fence) (inserted, updated int, err error) {
	const q = `
		INSERT INTO scheduling.geofences
			(id, booking_id, label, center_lat, center_lng, radius_meters, active, created_at, updated_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (booking_id) WHERE active DO UPDATE SET
			label         = EXCLUDED.label,
			center_lat    = EXCLUDED.center_lat,
			center_lng    = EXCLUDED.center_lng,
			radius_meters = EXCLUDED.radius_meters,
			active        = EXCLUDED.active,
			updated_at    = now()
		RETURNING (xmax = 0)`

	for _, f := range fences {
		var created bool
		if err := tx.QueryRowContext(ctx, q,
			f.BookingID, f.Label, f.Center.Lat, f.Center.Lng, f.RadiusMeters, f.isActive(),
		).Scan(&created); err != nil {
			return inserted, updated, fmt.Errorf("booking %s: %w", f.BookingID, err)
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}
