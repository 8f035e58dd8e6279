package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultSampleInterval is the default time between two position samples.
const DefaultSampleInterval = 30 * time.Second

// Position is one reading from the platform location provider.
type Position struct {
	Lat          float64
	Lng          float64
	Accuracy     *float64
	BatteryLevel *float64
}

// PositionSource reads the device's current position. It must not block on
// network I/O.
type PositionSource interface {
	Current(ctx context.Context) (Position, error)
}

// Fix is the ingestion payload queued for delivery.
type Fix struct {
	SessionID      string    `json:"sessionId"`
	MedicID        string    `json:"medicId"`
	BookingID      string    `json:"bookingId"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Accuracy       *float64  `json:"accuracy"`
	BatteryLevel   *float64  `json:"batteryLevel"`
	ClientSeq      int64     `json:"clientSeq"`
	IdempotencyKey string    `json:"idempotencyKey"`
	RecordedAt     time.Time `json:"recordedAt"`
	QueueDepth     int       `json:"queueDepth"`
	SyncDegraded   bool      `json:"syncDegraded"`
}

// IdempotencyKey is the queue and server key of the seq-th fix of a session.
func IdempotencyKey(sessionID string, seq int64) string {
	return fmt.Sprintf("%s:%d", sessionID, seq)
}

// Sampler turns ticks into queued fixes for one session.
type Sampler struct {
	session  *Session
	source   PositionSource
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	seq     int64
	last    *Position
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSampler(s *Session, source PositionSource, clock Clock, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{session: s, source: source, clock: clock, interval: interval}
}

// Start resumes the seq counter from the queue and begins sampling.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	seq, err := s.session.agent.queue.MaxSeq(ctx, s.session.ID)
	if err != nil {
		return fmt.Errorf("resume seq for %s: %w", s.session.ID, err)
	}
	s.seq = seq

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	ticker := s.clock.NewTicker(s.interval)
	go s.loop(loopCtx, ticker, s.done)
	return nil
}

// Stop halts sampling and waits for an in-progress tick to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Sampler) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := s.Tick(ctx); err != nil {
				log.Printf("[agent] session %s sample failed: %v", s.session.ID, err)
			}
		}
	}
}

// Tick takes one sample and queues it. A failed read still produces a
// low-quality fix at the last known position.
func (s *Sampler) Tick(ctx context.Context) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.session.agent
	now := s.clock.Now().UTC()

	pos, err := s.source.Current(ctx)
	lowQuality := false
	switch {
	case err != nil:
		log.Printf("[agent] session %s position unavailable: %v", s.session.ID, err)
		pos = Position{}
		if s.last != nil {
			pos = Position{Lat: s.last.Lat, Lng: s.last.Lng}
		}
		lowQuality = true
	case pos.Accuracy == nil || *pos.Accuracy > a.opts.MaxAccuracyMeters:
		lowQuality = true
		p := pos
		s.last = &p
	default:
		p := pos
		s.last = &p
	}

	s.seq++
	fix := Fix{
		SessionID:      s.session.ID,
		MedicID:        s.session.MedicID,
		BookingID:      s.session.BookingID,
		Lat:            pos.Lat,
		Lng:            pos.Lng,
		Accuracy:       pos.Accuracy,
		BatteryLevel:   pos.BatteryLevel,
		ClientSeq:      s.seq,
		IdempotencyKey: IdempotencyKey(s.session.ID, s.seq),
		RecordedAt:     now,
	}

	payload, merr := json.Marshal(fix)
	if merr != nil {
		return Entry{}, merr
	}
	e := Entry{
		Key:        fix.IdempotencyKey,
		SessionID:  s.session.ID,
		Seq:        s.seq,
		Payload:    payload,
		Accuracy:   fix.Accuracy,
		LowQuality: lowQuality,
		CreatedAt:  now,
	}
	if err := a.queue.Enqueue(ctx, e); err != nil {
		s.seq--
		return Entry{}, err
	}
	a.status.setBattery(pos.BatteryLevel)
	a.afterEnqueue(ctx, s.session.ID)
	return e, nil
}
