// Package redis provides the Redis-backed cost counter store. Counters
// are shared across processes and reclaimed by TTL, so the breaker
// needs no durable bookkeeping of its own.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/billgate/billgate/ports"
)

// CostCounterStore implements ports.CostCounterStore on Redis. All
// mutation goes through INCRBY+EXPIRE in one pipeline; there is no
// read-modify-write anywhere.
type CostCounterStore struct {
	client *redis.Client
}

// NewCostCounterStore creates a counter store over an existing client.
func NewCostCounterStore(client *redis.Client) *CostCounterStore {
	return &CostCounterStore{client: client}
}

// IncrBy atomically adds cents to key. The expiry is re-armed on every
// write; the key's lifetime equals the window length, so a window
// resets itself by expiring.
func (s *CostCounterStore) IncrBy(ctx context.Context, key string, cents int64, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, key, cents)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr %s: %w", key, err)
	}
	return nil
}

// GetMulti returns current values for keys; missing keys read as 0.
func (s *CostCounterStore) GetMulti(ctx context.Context, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]int64, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out, nil
}

// Ping verifies the store is reachable.
func (s *CostCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure interface compliance.
var _ ports.CostCounterStore = (*CostCounterStore)(nil)
