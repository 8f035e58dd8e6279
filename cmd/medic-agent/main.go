package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/agent"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		routePath = flag.String("route", "", "path to a YAML route file (required)")
		server    = flag.String("server", envOr("SM_SERVER_URL", "http://localhost:5050"), "tracking API base URL")
		token     = flag.String("token", os.Getenv("SM_DEVICE_TOKEN"), "device bearer token")
		medicID   = flag.String("medic", "", "medic id (required)")
		bookingID = flag.String("booking", "", "booking id (required)")
		queuePath = flag.String("queue", "medic-agent.db", "path to the local queue database")
		queueCap  = flag.Int("queue-cap", agent.DefaultQueueCap, "max queued fixes per session before coalescing")
		noPerm    = flag.Bool("deny-permission", false, "simulate a device without location permission")
	)
	flag.Parse()

	if *routePath == "" || *medicID == "" || *bookingID == "" {
		flag.Usage()
		os.Exit(2)
	}

	raw, err := os.ReadFile(*routePath)
	if err != nil {
		log.Fatal(err)
	}
	source, interval, err := parseRoute(raw)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := agent.OpenQueue(ctx, *queuePath)
	if err != nil {
		log.Fatal(err)
	}
	defer queue.Close()

	status := agent.NewStatusFeed()
	syncer := agent.NewSyncClient(queue, status, agent.SyncOptions{
		BaseURL:  *server,
		Token:    *token,
		QueueCap: *queueCap,
	})
	a := agent.New(queue, source, grantedPermission(!*noPerm), status, syncer, agent.Options{
		SampleInterval: interval,
		QueueCap:       *queueCap,
	})

	session, err := a.StartSession(ctx, *medicID, *bookingID)
	if errors.Is(err, agent.ErrPermissionDenied) {
		log.Fatal("Location permission denied; tracking not started")
	}
	if err != nil {
		log.Fatal(err)
	}

	go syncer.Run(ctx)

	updates, cancel := status.Subscribe()
	defer cancel()
	go func() {
		for st := range updates {
			inside := "unknown"
			if st.InsideGeofence != nil {
				inside = map[bool]string{true: "inside", false: "outside"}[*st.InsideGeofence]
			}
			log.Printf("[medic-agent] tracking=%v geofence=%s queued=%d degraded=%v",
				st.IsTracking, inside, st.QueueSize, st.SyncDegraded)
		}
	}()

	<-ctx.Done()
	log.Println("[medic-agent] stopping session, flushing queue...")
	session.Stop()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFlush()
	if err := syncer.Flush(flushCtx); err != nil {
		log.Printf("[medic-agent] final flush: %v", err)
	}
	if n, err := queue.TotalDepth(flushCtx); err == nil && n > 0 {
		log.Printf("[medic-agent] %d fixes still queued; they are sent on the next run", n)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
