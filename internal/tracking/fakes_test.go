package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/alerts"
	"github.com/SiteMedic/SM-Backend/internal/geofence"
	"github.com/google/uuid"
)

type memStore struct {
	mu              sync.Mutex
	sessions        map[uuid.UUID]TrackingSession
	fixes           map[string]PositionFix
	classifications map[uuid.UUID]FixClassification
}

func newMemStore() *memStore {
	return &memStore{
		sessions:        make(map[uuid.UUID]TrackingSession),
		fixes:           make(map[string]PositionFix),
		classifications: make(map[uuid.UUID]FixClassification),
	}
}

func (m *memStore) StartSession(_ context.Context, id uuid.UUID, medicID, bookingID string, at time.Time) (TrackingSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.MedicID == medicID && s.BookingID == bookingID && s.Active {
			return s, false, nil
		}
	}
	s := TrackingSession{ID: id, MedicID: medicID, BookingID: bookingID, StartedAt: at, Active: true, CreatedAt: at, UpdatedAt: at}
	m.sessions[id] = s
	return s, true, nil
}

func (m *memStore) StopSession(_ context.Context, id uuid.UUID, at time.Time) (TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || !s.Active {
		return TrackingSession{}, ErrNoActiveSession
	}
	s.Active = false
	s.StoppedAt = &at
	m.sessions[id] = s
	return s, nil
}

func (m *memStore) SessionByID(_ context.Context, id uuid.UUID) (TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return TrackingSession{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) ActiveSessionForMedic(_ context.Context, medicID string) (TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *TrackingSession
	for _, s := range m.sessions {
		s := s
		if s.MedicID == medicID && s.Active && (best == nil || s.StartedAt.After(best.StartedAt)) {
			best = &s
		}
	}
	if best == nil {
		return TrackingSession{}, ErrNoActiveSession
	}
	return *best, nil
}

func (m *memStore) LatestSessionForPair(_ context.Context, medicID, bookingID string) (TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *TrackingSession
	for _, s := range m.sessions {
		s := s
		if s.MedicID != medicID || s.BookingID != bookingID {
			continue
		}
		if best == nil || (s.Active && !best.Active) || (s.Active == best.Active && s.StartedAt.After(best.StartedAt)) {
			best = &s
		}
	}
	if best == nil {
		return TrackingSession{}, ErrNoActiveSession
	}
	return *best, nil
}

func (m *memStore) InsertFix(_ context.Context, fix PositionFix) (PositionFix, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.fixes[fix.IdempotencyKey]; ok {
		return existing, true, nil
	}
	m.fixes[fix.IdempotencyKey] = fix
	return fix, false, nil
}

func (m *memStore) FixesForSession(_ context.Context, sessionID uuid.UUID) ([]PositionFix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PositionFix
	for _, f := range m.fixes {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ClientSeq < out[j].ClientSeq
	})
	return out, nil
}

func (m *memStore) SaveClassification(_ context.Context, c FixClassification) (FixClassification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.classifications[c.FixID]; ok {
		return existing, nil
	}
	m.classifications[c.FixID] = c
	return c, nil
}

func (m *memStore) ClassificationForFix(_ context.Context, fixID uuid.UUID) (FixClassification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.classifications[fixID]
	return c, ok, nil
}

func (m *memStore) SetPresence(_ context.Context, sessionID uuid.UUID, from, to bool, source string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || !s.Active || s.OnSite != from {
		return false, nil
	}
	s.OnSite = to
	s.OnSiteSource = source
	s.UpdatedAt = at
	m.sessions[sessionID] = s
	return true, nil
}

func (m *memStore) RecordDeviceReport(_ context.Context, sessionID uuid.UUID, r DeviceReport, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.QueueDepth = r.QueueDepth
	s.SyncDegraded = r.SyncDegraded
	if r.BatteryLevel != nil {
		b := *r.BatteryLevel
		s.BatteryLevel = &b
	}
	if s.LastFixAt == nil || r.LastFixAt.After(*s.LastFixAt) {
		t := r.LastFixAt
		s.LastFixAt = &t
	}
	if r.Inside != nil {
		s.InsideGeofence = *r.Inside
	}
	s.UpdatedAt = at
	m.sessions[sessionID] = s
	return nil
}

type staticDirectory map[string]geofence.Geofence

func (d staticDirectory) ActiveForBooking(_ context.Context, bookingID string) (geofence.Geofence, error) {
	g, ok := d[bookingID]
	if !ok || !g.Active {
		return geofence.Geofence{}, geofence.ErrNoActiveGeofence
	}
	return g, nil
}

type fakeSink struct {
	mu       sync.Mutex
	breaches []alerts.Breach
	resolved []string
}

func (f *fakeSink) RaiseBreach(_ context.Context, b alerts.Breach) (alerts.MedicAlert, alerts.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breaches = append(f.breaches, b)
	outcome := alerts.OutcomeCreated
	if len(f.breaches) > 1 {
		outcome = alerts.OutcomeRefreshed
	}
	return alerts.MedicAlert{MedicID: b.MedicID, BookingID: b.BookingID}, outcome, nil
}

func (f *fakeSink) ResolveOnArrival(_ context.Context, medicID, bookingID string) ([]alerts.MedicAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, medicID+"|"+bookingID)
	return nil, nil
}

func (f *fakeSink) counts() (breaches, resolved int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.breaches), len(f.resolved)
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]Status
	gets    int
}

func (c *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	st, ok := c.entries[key]
	if ok {
		*dst.(*Status) = st
	}
	return ok, nil
}

func (c *memCache) Set(_ context.Context, key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]Status)
	}
	c.entries[key] = v.(Status)
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
