package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL environment variable is required")
	ErrInvalidAccuracy     = errors.New("TRACKING_MAX_ACCURACY_METERS must be positive")
	ErrInvalidDedupWindow  = errors.New("ALERT_DEDUP_WINDOW must be positive")
	ErrInvalidIngestLimits = errors.New("INGEST_RATE_PER_MINUTE and INGEST_BURST must be positive")
)

// Config holds the server configuration.
type Config struct {
	Port        string
	DatabaseURL string

	// MaxAccuracyMeters is the worst horizontal accuracy still used for
	// breach classification. Worse fixes are stored but tagged low-quality.
	MaxAccuracyMeters float64

	// DedupWindow is the rolling window during which repeated breaches for the
	// same medic/booking refresh the open alert instead of creating a new one.
	DedupWindow time.Duration

	// Per-medic ingestion limits. A device samples every 30s but replays its
	// backlog after reconnecting, so the burst has to cover a drained queue.
	IngestRatePerMinute int
	IngestBurst         int

	// Optional collaborators. Empty means disabled.
	RedisAddr      string
	RedisPassword  string
	StatusCacheTTL time.Duration
	AMQPURL        string
	AMQPExchange   string

	AllowedOrigins []string

	// OperatorAPIKey guards operator routes (alerts, token management).
	// Empty disables the check.
	OperatorAPIKey string
}

// Defaults used when the matching environment variable is unset.
const (
	DefaultPort                = "5050"
	DefaultMaxAccuracyMeters   = 50.0
	DefaultDedupWindow         = 15 * time.Minute
	DefaultIngestRatePerMinute = 120
	DefaultIngestBurst         = 240
	DefaultStatusCacheTTL      = 5 * time.Second
	DefaultAMQPExchange        = "medic_tracking"
)

// LoadFromEnv loads server configuration from environment variables.
//
// Environment variables:
//   - PORT (default 5050)
//   - DATABASE_URL (required)
//   - TRACKING_MAX_ACCURACY_METERS (default 50)
//   - ALERT_DEDUP_WINDOW, a Go duration (default 15m)
//   - INGEST_RATE_PER_MINUTE / INGEST_BURST (default 120 / 240)
//   - REDIS_ADDR, REDIS_PASSWORD, STATUS_CACHE_TTL (default 5s)
//   - RABBITMQ_URL, RABBITMQ_EXCHANGE (default medic_tracking)
//   - CORS_ALLOWED_ORIGINS, comma separated, appended to the built-in list
//   - OPERATOR_API_KEY
func LoadFromEnv() Config {
	return Config{
		Port:                envString("PORT", DefaultPort),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxAccuracyMeters:   envFloat("TRACKING_MAX_ACCURACY_METERS", DefaultMaxAccuracyMeters),
		DedupWindow:         envDuration("ALERT_DEDUP_WINDOW", DefaultDedupWindow),
		IngestRatePerMinute: envInt("INGEST_RATE_PER_MINUTE", DefaultIngestRatePerMinute),
		IngestBurst:         envInt("INGEST_BURST", DefaultIngestBurst),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		StatusCacheTTL:      envDuration("STATUS_CACHE_TTL", DefaultStatusCacheTTL),
		AMQPURL:             strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		AMQPExchange:        envString("RABBITMQ_EXCHANGE", DefaultAMQPExchange),
		AllowedOrigins:      envList("CORS_ALLOWED_ORIGINS"),
		OperatorAPIKey:      strings.TrimSpace(os.Getenv("OPERATOR_API_KEY")),
	}
}

// Validate checks that the configuration can run the server.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.MaxAccuracyMeters <= 0 {
		return ErrInvalidAccuracy
	}
	if c.DedupWindow <= 0 {
		return ErrInvalidDedupWindow
	}
	if c.IngestRatePerMinute <= 0 || c.IngestBurst <= 0 {
		return ErrInvalidIngestLimits
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
