package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Fire delivers one tick to every ticker created so far.
func (c *fakeClock) Fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		select {
		case t.ch <- c.now:
		default:
		}
	}
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type scriptedSource struct {
	mu    sync.Mutex
	steps []sourceStep
	i     int
}

type sourceStep struct {
	pos Position
	err error
}

func (s *scriptedSource) Current(context.Context) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return Position{}, errors.New("no fix")
	}
	step := s.steps[min(s.i, len(s.steps)-1)]
	s.i++
	return step.pos, step.err
}

func accurate(lat, lng float64) sourceStep {
	acc := 8.0
	return sourceStep{pos: Position{Lat: lat, Lng: lng, Accuracy: &acc}}
}

type permission bool

func (p permission) LocationPermitted(context.Context) (bool, error) { return bool(p), nil }

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := OpenQueue(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// fakeServer stands in for the tracking API.
type fakeServer struct {
	*httptest.Server

	mu             sync.Mutex
	online         bool
	failFixes      bool
	classification string
	armedID        string
	fixes          []Fix
	registered     []string
	stopped        []string
	fixAttempts    int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{online: true, classification: "outside"}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.online {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("Authorization") != "Bearer device-token" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/tracking/sessions":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.registered = append(fs.registered, body["sessionId"])
		id := body["sessionId"]
		if fs.armedID != "" {
			id = fs.armedID
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "booking_id": body["bookingId"], "active": true})
	case "/tracking/sessions/stop":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if fs.armedID != "" && body["sessionId"] != fs.armedID {
			http.Error(w, "no active tracking session", http.StatusNotFound)
			return
		}
		fs.stopped = append(fs.stopped, body["sessionId"])
		w.WriteHeader(http.StatusOK)
	case "/tracking/fixes":
		fs.fixAttempts++
		if fs.failFixes {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var fix Fix
		if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		fs.fixes = append(fs.fixes, fix)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"idempotencyKey": fix.IdempotencyKey,
			"classification": fs.classification,
		})
	default:
		http.NotFound(w, r)
	}
}

func (fs *fakeServer) set(f func(*fakeServer)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f(fs)
}

func (fs *fakeServer) snapshot() (fixes []Fix, registered, stopped []string, attempts int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Fix(nil), fs.fixes...), append([]string(nil), fs.registered...),
		append([]string(nil), fs.stopped...), fs.fixAttempts
}

type harness struct {
	clock  *fakeClock
	queue  *Queue
	source *scriptedSource
	server *fakeServer
	sync   *SyncClient
	agent  *Agent
}

func newHarness(t *testing.T, queueCap int, steps ...sourceStep) *harness {
	t.Helper()
	h := &harness{
		clock:  newFakeClock(),
		queue:  newTestQueue(t),
		source: &scriptedSource{steps: steps},
		server: newFakeServer(t),
	}
	status := NewStatusFeed()
	h.sync = NewSyncClient(h.queue, status, SyncOptions{
		BaseURL:  h.server.URL,
		Token:    "device-token",
		QueueCap: queueCap,
		Clock:    h.clock,
	})
	h.agent = New(h.queue, h.source, permission(true), status, h.sync, Options{
		QueueCap: queueCap,
		Clock:    h.clock,
	})
	return h
}

func (h *harness) depth(t *testing.T) int {
	t.Helper()
	n, err := h.queue.TotalDepth(context.Background())
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	return n
}
