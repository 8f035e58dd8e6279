package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/alerts"
	"github.com/SiteMedic/SM-Backend/internal/auth"
	"github.com/SiteMedic/SM-Backend/internal/cache"
	"github.com/SiteMedic/SM-Backend/internal/config"
	"github.com/SiteMedic/SM-Backend/internal/db"
	"github.com/SiteMedic/SM-Backend/internal/events"
	"github.com/SiteMedic/SM-Backend/internal/geofence"
	"github.com/SiteMedic/SM-Backend/internal/middleware"
	"github.com/SiteMedic/SM-Backend/internal/tracking"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db.Connect(cfg.DatabaseURL)
	if err := db.EnsureUUIDExtension(db.DB); err != nil {
		log.Fatal("Failed to enable uuid-ossp extension: ", err)
	}

	auth.Init()
	geofence.Init()
	tracking.Init()
	alerts.Init()

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		rabbit, err := events.DialRabbit(ctx, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("[main] rabbitmq unavailable, events disabled: %v", err)
		} else {
			defer rabbit.Close()
			publisher = rabbit
		}
	}

	var statusCache tracking.StatusCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Printf("[main] redis unavailable, status cache disabled: %v", err)
		} else {
			defer rdb.Close()
			statusCache = cache.NewJSONCache(rdb, "tracking:status:", cfg.StatusCacheTTL)
		}
	}

	if cfg.OperatorAPIKey == "" {
		log.Println("[main] OPERATOR_API_KEY not set, operator routes are open")
	}

	hub := alerts.NewHub(cfg.AllowedOrigins)
	go hub.Run(ctx)

	alertStore := alerts.NewGormStore(db.DB)
	dedup := alerts.NewDeduplicator(alertStore, cfg.DedupWindow, publisher, hub)

	svc := tracking.NewService(
		tracking.NewGormStore(db.DB),
		geofence.NewGormDirectory(db.DB),
		dedup,
		tracking.Options{
			MaxAccuracyMeters: cfg.MaxAccuracyMeters,
			Publisher:         publisher,
			Cache:             statusCache,
		},
	)

	deviceAuth := middleware.DeviceAuthMiddleware(auth.TokenFetcher{DB: db.DB})
	operatorOnly := middleware.OperatorKeyMiddleware(cfg.OperatorAPIKey)
	limiter := middleware.NewMedicLimiter(cfg.IngestRatePerMinute, cfg.IngestBurst)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.PrometheusMiddleware)
	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/auth", auth.SetupRoutes(&auth.Handlers{Issuer: auth.NewIssuer(db.DB)}, operatorOnly))
	r.Mount("/tracking", tracking.SetupRoutes(&tracking.Handlers{Service: svc}, deviceAuth, limiter.Middleware))
	r.Mount("/alerts", alerts.SetupRoutes(&alerts.Handlers{Dedup: dedup, Store: alertStore, Hub: hub}, operatorOnly))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server listening on port :%s...", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] graceful shutdown failed: %v", err)
	}
}
