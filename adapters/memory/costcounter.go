// Package memory provides in-memory implementations of ports used in
// tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/billgate/billgate/ports"
)

type counter struct {
	cents     int64
	expiresAt time.Time
}

// CostCounterStore is an in-memory implementation of
// ports.CostCounterStore. Windows expire lazily on read.
type CostCounterStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewCostCounterStore creates an empty counter store.
func NewCostCounterStore() *CostCounterStore {
	return &CostCounterStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock (for tests).
func (s *CostCounterStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// IncrBy atomically adds cents to key, arming the TTL on first write.
func (s *CostCounterStore) IncrBy(ctx context.Context, key string, cents int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		s.counters[key] = &counter{cents: cents, expiresAt: now.Add(ttl)}
		return nil
	}
	c.cents += cents
	c.expiresAt = now.Add(ttl)
	return nil
}

// GetMulti returns current values for keys; missing or expired keys
// read as 0.
func (s *CostCounterStore) GetMulti(ctx context.Context, keys ...string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]int64, len(keys))
	for i, key := range keys {
		c, ok := s.counters[key]
		if !ok {
			continue
		}
		if now.After(c.expiresAt) {
			delete(s.counters, key)
			continue
		}
		out[i] = c.cents
	}
	return out, nil
}

// Ping always succeeds.
func (s *CostCounterStore) Ping(ctx context.Context) error {
	return nil
}

// Ensure interface compliance.
var _ ports.CostCounterStore = (*CostCounterStore)(nil)
