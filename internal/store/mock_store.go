// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps exchanges in memory so front-end tests run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	exchanges []*Exchange
	closed    bool

	// RecordErr, when set, is returned by RecordExchange.
	RecordErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordExchange stores a copy of e.
func (m *MockStore) RecordExchange(ctx context.Context, e *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}
	prepareExchange(e)
	cp := *e
	m.exchanges = append(m.exchanges, &cp)
	return nil
}

// GetExchangeByCorrelationID returns the newest exchange with id.
func (m *MockStore) GetExchangeByCorrelationID(ctx context.Context, id string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Exchange
	for _, e := range m.exchanges {
		if e.CorrelationID == id && (found == nil || !e.FinishedAt.Before(found.FinishedAt)) {
			found = e
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// ListExchanges returns matching exchanges, newest first.
func (m *MockStore) ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Exchange
	for _, e := range m.exchanges {
		if f.Owner != "" && e.Owner != f.Owner {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		if f.Since != nil && e.FinishedAt.Before(*f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOutcomes tallies exchanges finished at or after since.
func (m *MockStore) CountOutcomes(ctx context.Context, since time.Time) (OutcomeCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := OutcomeCounts{}
	for _, e := range m.exchanges {
		if !e.FinishedAt.Before(since) {
			counts[e.Outcome]++
		}
	}
	return counts, nil
}

// Exchanges returns a snapshot of everything recorded, oldest first.
func (m *MockStore) Exchanges() []Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Exchange, len(m.exchanges))
	for i, e := range m.exchanges {
		out[i] = *e
	}
	return out
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
