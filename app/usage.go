package app

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/domain/quota"
	"github.com/billgate/billgate/ports"
)

// UsageService is the metering gate: it decides, before any paid work
// runs, whether an account has quota left. Unknown accounts are
// provisioned as trial on first contact.
type UsageService struct {
	store   ports.DataStore
	limits  quota.Limits
	clock   ports.Clock
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewUsageService creates a usage gate.
func NewUsageService(
	store ports.DataStore,
	limits quota.Limits,
	clock ports.Clock,
	m *metrics.Collector,
	logger zerolog.Logger,
) *UsageService {
	return &UsageService{
		store:   store,
		limits:  limits,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Check decides whether the account may run one more unit of paid work.
// The decision honors a cancelled subscription's grace period without
// mutating anything; the durable downgrade arrives with the expired
// event.
func (s *UsageService) Check(ctx context.Context, accountID string) (quota.CheckResult, error) {
	now := s.clock.Now().UTC()

	acct, err := s.store.Accounts().GetOrCreate(ctx, accountID, now)
	if err != nil {
		return quota.CheckResult{}, err
	}

	tier := acct.Tier
	if tier != billing.TierTrial && tier != billing.TierCancelled {
		sub, err := s.store.Subscriptions().GetByAccount(ctx, accountID)
		switch {
		case err == nil:
			tier = billing.EffectiveTier(acct, &sub, now)
		case errors.Is(err, ports.ErrNotFound):
			// Paid tier without a subscription row. Fail toward the
			// account's stored tier; reconciliation flags the gap.
		default:
			return quota.CheckResult{}, err
		}
	}

	res := quota.Check(tier, acct.UsageCount, s.limits)
	s.metrics.GateDecisions.WithLabelValues(string(tier), strconv.FormatBool(res.Allowed)).Inc()
	if !res.Allowed {
		s.logger.Info().
			Str("account_id", accountID).
			Str("tier", string(tier)).
			Int64("used", res.Used).
			Int64("limit", res.Limit).
			Msg("usage limit reached")
	}
	return res, nil
}

// Increment counts one completed unit against the account. Atomic at
// the store, never read-modify-write.
func (s *UsageService) Increment(ctx context.Context, accountID string) (int64, error) {
	return s.store.Accounts().IncrementUsage(ctx, accountID, s.clock.Now().UTC())
}
