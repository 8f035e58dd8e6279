package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrInvalidSession   = errors.New("medic id and booking id are required")
)

// DefaultQueueCap is 24h of fixes at the default sample interval.
const DefaultQueueCap = 2880

// PermissionChecker reports whether the OS granted location access.
type PermissionChecker interface {
	LocationPermitted(ctx context.Context) (bool, error)
}

// Syncer is told about session lifecycle and new queue entries.
type Syncer interface {
	Track(sessionID, bookingID string)
	Stopped(sessionID string)
	Kick()
}

type Options struct {
	SampleInterval    time.Duration
	MaxAccuracyMeters float64
	QueueCap          int
	Clock             Clock
}

// Agent owns the device's tracking sessions. Create one per process.
type Agent struct {
	queue  *Queue
	source PositionSource
	perms  PermissionChecker
	status *StatusFeed
	syncer Syncer
	clock  Clock
	opts   Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(queue *Queue, source PositionSource, perms PermissionChecker, status *StatusFeed, syncer Syncer, opts Options) *Agent {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.MaxAccuracyMeters <= 0 {
		opts.MaxAccuracyMeters = 50
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if status == nil {
		status = NewStatusFeed()
	}
	return &Agent{
		queue:    queue,
		source:   source,
		perms:    perms,
		status:   status,
		syncer:   syncer,
		clock:    opts.Clock,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

func (a *Agent) Status() *StatusFeed { return a.status }

// Session is an armed tracking session on the device.
type Session struct {
	ID        string
	MedicID   string
	BookingID string
	StartedAt time.Time

	agent   *Agent
	sampler *Sampler

	mu     sync.Mutex
	active bool
}

func pairKey(medicID, bookingID string) string {
	return medicID + "|" + bookingID
}

// StartSession arms tracking for the pair and starts sampling. Starting a
// pair that is already active returns the running session.
func (a *Agent) StartSession(ctx context.Context, medicID, bookingID string) (*Session, error) {
	medicID, bookingID = strings.TrimSpace(medicID), strings.TrimSpace(bookingID)
	if medicID == "" || bookingID == "" {
		return nil, ErrInvalidSession
	}

	ok, err := a.perms.LocationPermitted(ctx)
	if err != nil {
		return nil, fmt.Errorf("check location permission: %w", err)
	}
	if !ok {
		return nil, ErrPermissionDenied
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := pairKey(medicID, bookingID)
	if s, ok := a.sessions[key]; ok && s.Active() {
		return s, nil
	}

	s := &Session{
		ID:        uuid.NewString(),
		MedicID:   medicID,
		BookingID: bookingID,
		StartedAt: a.clock.Now().UTC(),
		agent:     a,
		active:    true,
	}
	s.sampler = newSampler(s, a.source, a.clock, a.opts.SampleInterval)
	if err := s.sampler.Start(ctx); err != nil {
		return nil, err
	}
	a.sessions[key] = s

	if a.syncer != nil {
		a.syncer.Track(s.ID, bookingID)
	}
	a.status.setTracking(true)
	log.Printf("[agent] session %s started medic=%s booking=%s", s.ID, medicID, bookingID)
	return s, nil
}

// Active reports whether the session is still sampling.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Sampler exposes the session's sampler.
func (s *Session) Sampler() *Sampler { return s.sampler }

// Stop deactivates the session and stops sampling. Queued fixes stay and
// are still delivered.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.sampler.Stop()

	a := s.agent
	a.mu.Lock()
	if cur, ok := a.sessions[pairKey(s.MedicID, s.BookingID)]; ok && cur == s {
		delete(a.sessions, pairKey(s.MedicID, s.BookingID))
	}
	tracking := len(a.sessions) > 0
	a.mu.Unlock()

	if a.syncer != nil {
		a.syncer.Stopped(s.ID)
		a.syncer.Kick()
	}
	a.status.setTracking(tracking)
	log.Printf("[agent] session %s stopped", s.ID)
}

// afterEnqueue applies the overflow policy and publishes queue depth.
func (a *Agent) afterEnqueue(ctx context.Context, sessionID string) {
	dropped, over, err := a.queue.Trim(ctx, sessionID, a.opts.QueueCap)
	if err != nil {
		log.Printf("[agent] %v", err)
	}
	if dropped > 0 {
		log.Printf("[agent] session %s queue over cap, dropped %d low-quality fixes", sessionID, dropped)
	}
	if over {
		a.status.setDegraded(true)
	}

	if depth, err := a.queue.TotalDepth(ctx); err == nil {
		a.status.setQueueSize(depth)
	}
	if a.syncer != nil {
		a.syncer.Kick()
	}
}
