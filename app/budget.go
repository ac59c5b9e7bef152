package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/domain/budget"
	"github.com/billgate/billgate/ports"
)

// BreakerService is the cost circuit breaker: three rolling-window
// spend caps backed by a shared counter store. A store outage never
// takes the product down; checks fail open and tracking drops on the
// floor, both loudly.
type BreakerService struct {
	counters ports.CostCounterStore
	caps     budget.Caps
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewBreakerService creates a cost circuit breaker.
func NewBreakerService(
	counters ports.CostCounterStore,
	caps budget.Caps,
	clock ports.Clock,
	m *metrics.Collector,
	logger zerolog.Logger,
) *BreakerService {
	return &BreakerService{
		counters: counters,
		caps:     caps,
		clock:    clock,
		metrics:  m,
		logger:   logger,
	}
}

// Check reads all three window counters and evaluates the caps,
// narrowest layer first. On a store error the answer is allowed.
func (s *BreakerService) Check(ctx context.Context, callerID string) budget.Decision {
	spend, err := s.spend(ctx, callerID)
	if err != nil {
		s.metrics.BreakerStoreFailures.Inc()
		s.logger.Warn().Err(err).
			Str("caller_id", callerID).
			Msg("cost counter store unavailable, breaker failing open")
		return budget.Decision{Allowed: true}
	}

	s.metrics.BreakerSpendCents.WithLabelValues(string(budget.LayerGlobalHour)).Set(float64(spend.GlobalHour))
	s.metrics.BreakerSpendCents.WithLabelValues(string(budget.LayerGlobalDay)).Set(float64(spend.GlobalDay))

	d := budget.Evaluate(spend, s.caps)
	if !d.Allowed {
		s.metrics.BreakerBlocks.WithLabelValues(string(d.Layer)).Inc()
		s.logger.Warn().
			Str("caller_id", callerID).
			Str("layer", string(d.Layer)).
			Int64("caller_day_cents", spend.CallerDay).
			Int64("global_hour_cents", spend.GlobalHour).
			Int64("global_day_cents", spend.GlobalDay).
			Msg("cost circuit breaker tripped")
	}
	return d
}

// Track records real spend against all three windows after a unit of
// paid work completes. Failures are logged and counted, never returned:
// losing a counter increment is cheaper than losing the response.
func (s *BreakerService) Track(ctx context.Context, callerID string, costCents int64) {
	if costCents <= 0 {
		return
	}
	now := s.clock.Now()

	increments := []struct {
		key string
		ttl time.Duration
	}{
		{budget.CallerKey(callerID, now), budget.WindowDay},
		{budget.GlobalHourKey(now), budget.WindowHour},
		{budget.GlobalDayKey(now), budget.WindowDay},
	}
	for _, inc := range increments {
		if err := s.counters.IncrBy(ctx, inc.key, costCents, inc.ttl); err != nil {
			s.metrics.BreakerStoreFailures.Inc()
			s.logger.Warn().Err(err).
				Str("key", inc.key).
				Int64("cost_cents", costCents).
				Msg("failed to track spend")
		}
	}
}

// States returns the per-layer view for the status surface.
func (s *BreakerService) States(ctx context.Context, callerID string) ([]budget.LayerState, error) {
	spend, err := s.spend(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return budget.States(spend, s.caps), nil
}

func (s *BreakerService) spend(ctx context.Context, callerID string) (budget.Spend, error) {
	now := s.clock.Now()
	vals, err := s.counters.GetMulti(ctx,
		budget.CallerKey(callerID, now),
		budget.GlobalHourKey(now),
		budget.GlobalDayKey(now),
	)
	if err != nil {
		return budget.Spend{}, err
	}
	return budget.Spend{
		CallerDay:  vals[0],
		GlobalHour: vals[1],
		GlobalDay:  vals[2],
	}, nil
}
