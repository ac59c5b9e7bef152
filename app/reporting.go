package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// Reporting outcomes recorded on the usage_reports metric.
const (
	reportOutcomeReported = "reported"
	reportOutcomeSkipped  = "skipped"
	reportOutcomeGaveUp   = "gave_up"
)

// ReportingService bridges completed usage units to the provider's
// metering API. The unit row is the durable source of truth; the
// provider report is an at-most-once side effect per unit. On
// persistent failure the unit stays unreported and the account is
// under-billed until reconciliation surfaces it. Never the reverse.
type ReportingService struct {
	store    ports.DataStore
	provider ports.PaymentProvider
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger

	maxAttempts int
	backoff     time.Duration
}

// NewReportingService creates a usage reporting bridge.
func NewReportingService(
	store ports.DataStore,
	provider ports.PaymentProvider,
	clock ports.Clock,
	m *metrics.Collector,
	logger zerolog.Logger,
) *ReportingService {
	return &ReportingService{
		store:       store,
		provider:    provider,
		clock:       clock,
		metrics:     m,
		logger:      logger,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

// ReportUnit pushes one usage unit to the provider and marks it
// reported. Safe to call repeatedly: an already-reported unit is a
// no-op, and only metered accounts with a subscription item ever reach
// the provider. Errors are absorbed; the caller's request already
// succeeded.
func (s *ReportingService) ReportUnit(ctx context.Context, unitID string) {
	unit, err := s.store.Units().Get(ctx, unitID)
	if err != nil {
		s.logger.Error().Err(err).Str("unit_id", unitID).Msg("usage unit lookup failed")
		return
	}
	if unit.UsageReported {
		return
	}

	itemID, ok, err := s.meteredItem(ctx, unit.AccountID)
	if err != nil {
		// Transient store failure: leave the unit unreported so the next
		// pass retries it.
		s.logger.Error().Err(err).
			Str("unit_id", unit.ID).
			Str("account_id", unit.AccountID).
			Msg("subscription lookup failed, unit left unreported")
		return
	}
	if !ok {
		// Non-metered account, or a metered one with no reportable
		// subscription item. Mark reported anyway so the unit is never
		// retried forever; its cost is already tracked by the breaker.
		if err := s.store.Units().MarkReported(ctx, unit.ID); err != nil {
			s.logger.Error().Err(err).Str("unit_id", unit.ID).Msg("failed to mark skipped unit reported")
		}
		s.metrics.UsageReports.WithLabelValues(reportOutcomeSkipped).Inc()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.provider.ReportUsage(ctx, itemID, 1, unit.CreatedAt)
		if lastErr == nil {
			if err := s.store.Units().MarkReported(ctx, unit.ID); err != nil {
				// Provider has the record but our flag didn't stick;
				// reconciliation will see one extra provider-side unit.
				s.logger.Error().Err(err).
					Str("unit_id", unit.ID).
					Msg("failed to mark usage unit reported")
			}
			s.metrics.UsageReports.WithLabelValues(reportOutcomeReported).Inc()
			return
		}
		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				attempt = s.maxAttempts
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}
	}

	s.metrics.UsageReports.WithLabelValues(reportOutcomeGaveUp).Inc()
	s.logger.Error().Err(lastErr).
		Str("unit_id", unit.ID).
		Str("account_id", unit.AccountID).
		Msg("giving up on usage report, unit left unreported")
}

// meteredItem resolves the subscription item to bill a unit against.
// Only metered-tier subscriptions report usage. A missing subscription
// or a non-metered tier is a permanent "no item"; a store error is
// returned so the caller does not mistake it for one.
func (s *ReportingService) meteredItem(ctx context.Context, accountID string) (string, bool, error) {
	sub, err := s.store.Subscriptions().GetActiveByAccount(ctx, accountID)
	if errors.Is(err, ports.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if sub.Tier != billing.TierMetered || sub.ExternalItemID == "" {
		return "", false, nil
	}
	return sub.ExternalItemID, true, nil
}
