package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors GormStore semantics: one lock serialises UpsertBreach the
// way the advisory lock does per key, and (key, bucket) is unique while open.
type memStore struct {
	mu     sync.Mutex
	alerts []MedicAlert
}

func (m *memStore) UpsertBreach(_ context.Context, c MedicAlert, since time.Time) (MedicAlert, Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newest := -1
	for i, a := range m.alerts {
		if a.DedupKey != c.DedupKey || !a.Open() || a.CreatedAt.Before(since) {
			continue
		}
		if newest < 0 || a.CreatedAt.After(m.alerts[newest].CreatedAt) {
			newest = i
		}
	}
	if newest >= 0 {
		m.alerts[newest] = refresh(m.alerts[newest], c)
		return m.alerts[newest], OutcomeRefreshed, nil
	}

	for i, a := range m.alerts {
		if a.DedupKey == c.DedupKey && a.DedupBucket == c.DedupBucket && a.Open() {
			m.alerts[i] = refresh(a, c)
			return m.alerts[i], OutcomeRefreshed, nil
		}
	}

	m.alerts = append(m.alerts, c)
	return c, OutcomeCreated, nil
}

func (m *memStore) ResolveOpen(_ context.Context, medicID, bookingID, by, note string, at time.Time) ([]MedicAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MedicAlert
	for i, a := range m.alerts {
		if a.MedicID == medicID && a.BookingID == bookingID && a.Open() {
			resolvedBy := by
			resolvedAt := at
			m.alerts[i].ResolvedAt = &resolvedAt
			m.alerts[i].ResolvedBy = &resolvedBy
			m.alerts[i].ResolutionNote = note
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

func (m *memStore) Resolve(_ context.Context, id uuid.UUID, by, note string, at time.Time) (MedicAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.alerts {
		if a.ID != id {
			continue
		}
		if !a.Open() {
			return MedicAlert{}, ErrAlreadyResolved
		}
		m.alerts[i].ResolvedAt = &at
		m.alerts[i].ResolvedBy = &by
		m.alerts[i].ResolutionNote = note
		return m.alerts[i], nil
	}
	return MedicAlert{}, ErrAlertNotFound
}

func (m *memStore) List(_ context.Context, f Filter) ([]MedicAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MedicAlert
	for _, a := range m.alerts {
		if f.Status == "open" && !a.Open() || f.Status == "resolved" && a.Open() {
			continue
		}
		if len(f.MedicIDs) > 0 && !contains(f.MedicIDs, a.MedicID) {
			continue
		}
		if len(f.BookingIDs) > 0 && !contains(f.BookingIDs, a.BookingID) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Open() != out[j].Open() {
			return out[i].Open()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) open(key string) []MedicAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MedicAlert
	for _, a := range m.alerts {
		if a.DedupKey == key && a.Open() {
			out = append(out, a)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
