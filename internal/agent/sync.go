package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sync defaults.
const (
	DefaultAttemptTimeout = 10 * time.Second
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
	DefaultPollInterval   = 15 * time.Second
)

var ErrDeliveryFailed = errors.New("delivery failed")

type SyncOptions struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	PollInterval   time.Duration
	QueueCap       int
	Clock          Clock
}

type sessionState struct {
	bookingID    string
	serverID     string
	registered   bool
	stopped      bool
	stopReported bool
}

// SyncClient drains the queue to the server. Each session is delivered
// strictly in order by at most one worker; different sessions drain in
// parallel.
type SyncClient struct {
	queue  *Queue
	status *StatusFeed
	opts   SyncOptions
	clock  Clock
	kick   chan struct{}

	mu       sync.Mutex
	states   map[string]*sessionState
	sessLock map[string]*sync.Mutex
}

func NewSyncClient(queue *Queue, status *StatusFeed, opts SyncOptions) *SyncClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
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
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &SyncClient{
		queue:    queue,
		status:   status,
		opts:     opts,
		clock:    opts.Clock,
		kick:     make(chan struct{}, 1),
		states:   make(map[string]*sessionState),
		sessLock: make(map[string]*sync.Mutex),
	}
}

// Track registers a session that the server may not know about yet.
func (c *SyncClient) Track(sessionID, bookingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[sessionID]; !ok {
		c.states[sessionID] = &sessionState{bookingID: bookingID}
	}
}

// Stopped marks a session for a server-side stop once its queue is empty.
func (c *SyncClient) Stopped(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[sessionID]; ok {
		st.stopped = true
	}
}

// Kick requests a flush without waiting for the next poll.
func (c *SyncClient) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run flushes on every poll tick and kick until ctx is done.
func (c *SyncClient) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-c.kick:
		}
		if err := c.Flush(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[agent] flush: %v", err)
		}
	}
}

// Flush delivers everything that is due now. Entries that fail stay queued
// with a later retry time.
func (c *SyncClient) Flush(ctx context.Context) error {
	ids, err := c.queue.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	c.mu.Lock()
	for id, st := range c.states {
		if !seen[id] && (!st.registered || (st.stopped && !st.stopReported)) {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return c.drainSession(gctx, id)
		})
	}
	return g.Wait()
}

func (c *SyncClient) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sessLock[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.sessLock[sessionID] = l
	}
	return l
}

func (c *SyncClient) drainSession(ctx context.Context, sessionID string) error {
	l := c.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := c.ensureRegistered(ctx, sessionID); err != nil {
		log.Printf("[agent] session %s register: %v", sessionID, err)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := c.queue.Peek(ctx, sessionID)
		if errors.Is(err, ErrEntryNotFound) {
			c.reportStop(ctx, sessionID)
			return nil
		}
		if err != nil {
			return err
		}

		now := c.clock.Now()
		if !e.NextRetryAt.IsZero() && now.Before(e.NextRetryAt) {
			return nil
		}

		if err := c.deliver(ctx, e); err != nil {
			next := now.Add(Backoff(e.RetryCount+1, c.opts.BackoffBase, c.opts.BackoffMax))
			log.Printf("[agent] deliver %s attempt %d: %v (retry at %s)",
				e.Key, e.RetryCount+1, err, next.Format(time.RFC3339))
			if derr := c.queue.Defer(ctx, e.Key, next); derr != nil && !errors.Is(derr, ErrEntryNotFound) {
				return derr
			}
			return nil
		}

		if err := c.queue.Ack(ctx, e); err != nil && !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		c.publishDepth(ctx)
	}
}

// Backoff is the wait before the attempt-th retry: base doubling per
// attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func (c *SyncClient) publishDepth(ctx context.Context) {
	depth, err := c.queue.TotalDepth(ctx)
	if err != nil {
		return
	}
	c.status.setQueueSize(depth)
	if depth <= c.opts.QueueCap {
		c.status.setDegraded(false)
	}
}

type ingestAck struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Classification string `json:"classification"`
	OnSite         bool   `json:"onSite"`
}

func (c *SyncClient) deliver(ctx context.Context, e Entry) error {
	var fix Fix
	if err := json.Unmarshal(e.Payload, &fix); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	// Report the state as it will be once this entry is acked, so the last
	// fix of a drain tells the server the queue is empty.
	if depth, err := c.queue.TotalDepth(ctx); err == nil {
		fix.QueueDepth = max(depth-1, 0)
	}
	fix.SyncDegraded = c.status.Snapshot().SyncDegraded && fix.QueueDepth > c.opts.QueueCap
	if id := c.serverSessionID(e.SessionID); id != "" {
		fix.SessionID = id
	}

	var ack ingestAck
	if err := c.post(ctx, "/tracking/fixes", fix, &ack); err != nil {
		return err
	}

	switch ack.Classification {
	case "inside":
		c.status.setInside(true)
	case "outside":
		c.status.setInside(false)
	}
	return nil
}

func (c *SyncClient) ensureRegistered(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	st, ok := c.states[sessionID]
	if !ok || st.registered {
		c.mu.Unlock()
		return nil
	}
	body := map[string]string{"sessionId": sessionID, "bookingId": st.bookingID}
	c.mu.Unlock()

	// A pair already armed by the scheduler answers with its own session.
	var armed struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/tracking/sessions", body, &armed); err != nil {
		return err
	}

	c.mu.Lock()
	st.registered = true
	st.serverID = armed.ID
	c.mu.Unlock()
	if armed.ID != "" && armed.ID != sessionID {
		log.Printf("[agent] session %s joined server session %s", sessionID, armed.ID)
	}
	return nil
}

// serverSessionID is the server's id for a device session, or "" when the
// server has not answered a registration for it.
func (c *SyncClient) serverSessionID(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[sessionID]; ok {
		return st.serverID
	}
	return ""
}

func (c *SyncClient) reportStop(ctx context.Context, sessionID string) {
	c.mu.Lock()
	st, ok := c.states[sessionID]
	if !ok || !st.stopped || st.stopReported {
		c.mu.Unlock()
		return
	}
	target := sessionID
	if st.serverID != "" {
		target = st.serverID
	}
	c.mu.Unlock()

	err := c.post(ctx, "/tracking/sessions/stop", map[string]string{"sessionId": target}, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusNotFound) {
		log.Printf("[agent] session %s stop: %v", sessionID, err)
		return
	}

	c.mu.Lock()
	st.stopReported = true
	delete(c.states, sessionID)
	c.mu.Unlock()
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", ErrDeliveryFailed, e.code, e.body)
}

func (e *statusError) Unwrap() error { return ErrDeliveryFailed }

func (c *SyncClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
