package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	// FixesIngested counts ingestion calls by quality (accepted, low_quality)
	// and whether the idempotency key had been seen before.
	FixesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_fixes_ingested_total",
			Help: "Position fixes received by the ingestion endpoint",
		},
		[]string{"quality", "duplicate"},
	)

	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_classifications_total",
			Help: "Fix classifications against the booking geofence",
		},
		[]string{"result"},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_presence_transitions_total",
			Help: "Arrival/departure transitions",
		},
		[]string{"to", "source"},
	)

	// AlertsRaised counts breach alerts by outcome (created, refreshed).
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_breach_total",
			Help: "Geofence breach alerts by dedup outcome",
		},
		[]string{"outcome"},
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Resolved alerts by resolver",
		},
		[]string{"by"},
	)

	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_feed_clients",
			Help: "Connected operator feed websockets",
		},
	)
)
