package agent

import "sync"

// Status is what the device UI shows about tracking.
type Status struct {
	IsTracking     bool     `json:"isTracking"`
	InsideGeofence *bool    `json:"insideGeofence"`
	QueueSize      int      `json:"queueSize"`
	BatteryLevel   *float64 `json:"batteryLevel"`
	SyncDegraded   bool     `json:"syncDegraded"`
}

// StatusFeed holds the latest Status and fans updates out to subscribers.
// Slow subscribers only ever see the newest value.
type StatusFeed struct {
	mu      sync.Mutex
	current Status
	subs    map[chan Status]struct{}
}

func NewStatusFeed() *StatusFeed {
	return &StatusFeed{subs: make(map[chan Status]struct{})}
}

func (f *StatusFeed) Snapshot() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Subscribe returns a channel receiving each new Status and a cancel func.
func (f *StatusFeed) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	ch <- f.current
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

func (f *StatusFeed) update(mutate func(*Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.current
	mutate(&next)
	if next == f.current {
		return
	}
	f.current = next

	for ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

func (f *StatusFeed) setTracking(on bool) {
	f.update(func(s *Status) { s.IsTracking = on })
}

func (f *StatusFeed) setQueueSize(n int) {
	f.update(func(s *Status) { s.QueueSize = n })
}

func (f *StatusFeed) setDegraded(on bool) {
	f.update(func(s *Status) { s.SyncDegraded = on })
}

func (f *StatusFeed) setBattery(level *float64) {
	if level == nil {
		return
	}
	v := *level
	f.update(func(s *Status) { s.BatteryLevel = &v })
}

func (f *StatusFeed) setInside(inside bool) {
	f.update(func(s *Status) { s.InsideGeofence = &inside })
}
