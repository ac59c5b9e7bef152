package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// Mismatch kinds reported by reconciliation.
const (
	MismatchProviderUnreachable = "provider_unreachable"
	MismatchStatus              = "status_mismatch"
	MismatchTier                = "tier_mismatch"
	MismatchRenewal             = "renewal_mismatch"
	MismatchResetDrift          = "reset_drift"
	MismatchUsage               = "usage_discrepancy"
	MismatchGraceOverdue        = "grace_overdue"
)

// Finding is one detected divergence between local state and provider
// truth.
type Finding struct {
	Kind           string `json:"kind"`
	AccountID      string `json:"account_id"`
	SubscriptionID string `json:"subscription_id"`
	Detail         string `json:"detail"`
}

// Report summarizes one reconciliation run.
type Report struct {
	RanAt    time.Time `json:"ran_at"`
	Checked  int       `json:"checked"`
	Findings []Finding `json:"findings"`
}

// ReconcileConfig holds detection thresholds.
type ReconcileConfig struct {
	// RenewalTolerance is how far local and provider renewal dates may
	// drift before it counts as a mismatch.
	RenewalTolerance time.Duration

	// UsageDiscrepancyPct is the allowed relative gap between local
	// usage-unit counts and provider-reported usage, in percent.
	UsageDiscrepancyPct int64

	// MismatchCountThreshold is how many subscription mismatches a run
	// tolerates before the alert fires. Zero alerts on any mismatch.
	MismatchCountThreshold int

	// Plans maps plan variant ids to tiers, used to compare the
	// provider's variant against the locally recorded tier.
	Plans billing.PlanMap
}

// ReconcileService periodically diffs local billing state against the
// provider. Detection only: it alerts, it never writes. Webhooks remain
// the single mutation path.
type ReconcileService struct {
	store    ports.DataStore
	provider ports.PaymentProvider
	clock    ports.Clock
	cfg      ReconcileConfig
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewReconcileService creates a reconciliation job.
func NewReconcileService(
	store ports.DataStore,
	provider ports.PaymentProvider,
	clock ports.Clock,
	cfg ReconcileConfig,
	m *metrics.Collector,
	logger zerolog.Logger,
) *ReconcileService {
	if cfg.RenewalTolerance <= 0 {
		cfg.RenewalTolerance = time.Hour
	}
	if cfg.UsageDiscrepancyPct <= 0 {
		cfg.UsageDiscrepancyPct = 5
	}
	return &ReconcileService{
		store:    store,
		provider: provider,
		clock:    clock,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Run checks every active subscription against the provider's view.
// A finding is an alert, not an action.
func (s *ReconcileService) Run(ctx context.Context) (Report, error) {
	now := s.clock.Now().UTC()
	report := Report{RanAt: now}

	subs, err := s.store.Subscriptions().ListActive(ctx)
	if err != nil {
		return Report{}, err
	}

	for _, sub := range subs {
		report.Checked++
		report.Findings = append(report.Findings, s.checkSubscription(ctx, sub, now)...)
	}

	s.metrics.ReconcileRuns.Inc()
	s.metrics.ReconcileLastRun.Set(float64(now.Unix()))

	// Usage discrepancies carry their own percentage threshold; the
	// remaining subscription mismatches alert only once their count for
	// this run exceeds the configured threshold.
	subMismatches := 0
	for _, f := range report.Findings {
		s.metrics.ReconcileMismatches.WithLabelValues(f.Kind).Inc()
		if f.Kind != MismatchUsage {
			subMismatches++
		}
	}
	alert := subMismatches > s.cfg.MismatchCountThreshold
	for _, f := range report.Findings {
		evt := s.logger.Info()
		if f.Kind == MismatchUsage || alert {
			evt = s.logger.Warn()
		}
		evt.
			Str("kind", f.Kind).
			Str("account_id", f.AccountID).
			Str("subscription_id", f.SubscriptionID).
			Str("detail", f.Detail).
			Msg("reconciliation mismatch")
	}
	if alert {
		s.logger.Warn().
			Int("mismatches", subMismatches).
			Int("threshold", s.cfg.MismatchCountThreshold).
			Msg("subscription mismatch count exceeds threshold")
	}
	s.logger.Info().
		Int("checked", report.Checked).
		Int("findings", len(report.Findings)).
		Msg("reconciliation run complete")

	return report, nil
}

func (s *ReconcileService) checkSubscription(ctx context.Context, sub billing.Subscription, now time.Time) []Finding {
	var findings []Finding
	add := func(kind, detail string) {
		findings = append(findings, Finding{
			Kind:           kind,
			AccountID:      sub.AccountID,
			SubscriptionID: sub.ExternalID,
			Detail:         detail,
		})
	}

	remote, err := s.provider.GetSubscription(ctx, sub.ExternalID)
	if err != nil {
		add(MismatchProviderUnreachable, err.Error())
		return findings
	}

	if remote.Status != string(sub.Status) {
		add(MismatchStatus, "local "+string(sub.Status)+", provider "+remote.Status)
	}

	if remote.VariantID != "" {
		if want, ok := s.cfg.Plans.VariantFor(sub.Tier); ok && want != remote.VariantID {
			add(MismatchTier, "local tier "+string(sub.Tier)+" expects variant "+want+", provider has "+remote.VariantID)
		}
	}

	switch {
	case (sub.RenewsAt == nil) != (remote.RenewsAt == nil):
		add(MismatchRenewal, "renewal date present on one side only")
	case sub.RenewsAt != nil:
		if drift := absDuration(sub.RenewsAt.Sub(*remote.RenewsAt)); drift > s.cfg.RenewalTolerance {
			add(MismatchRenewal, "renewal dates differ by "+drift.String())
		}
	}

	// A cancelled subscription past its paid period should already have
	// been expired by the provider.
	if sub.Status == billing.SubscriptionStatusCancelled && sub.GracePeriodOver(now) {
		add(MismatchGraceOverdue, "grace period elapsed without expired event")
	}

	if sub.Tier == billing.TierSubscription {
		s.checkResetAlignment(ctx, sub, add)
	}
	if sub.Tier == billing.TierMetered && sub.ExternalItemID != "" {
		s.checkUsage(ctx, sub, now, add)
	}
	return findings
}

// checkResetAlignment verifies the invariant that an active
// subscription-tier account's usage reset anchor matches the
// subscription's renewal date. payment_success on an unknown
// subscription is the known way these drift apart.
func (s *ReconcileService) checkResetAlignment(ctx context.Context, sub billing.Subscription, add func(kind, detail string)) {
	acct, err := s.store.Accounts().Get(ctx, sub.AccountID)
	if err != nil {
		add(MismatchResetDrift, "account lookup failed: "+err.Error())
		return
	}
	if sub.RenewsAt == nil {
		return
	}
	if acct.UsageResetAt == nil || !acct.UsageResetAt.Equal(*sub.RenewsAt) {
		add(MismatchResetDrift, "usage reset anchor does not match renewal date")
	}
}

// checkUsage compares locally recorded usage units against what the
// provider believes was reported for the current period.
func (s *ReconcileService) checkUsage(ctx context.Context, sub billing.Subscription, now time.Time, add func(kind, detail string)) {
	start := periodStart(sub, now)

	local, err := s.store.Units().CountForAccount(ctx, sub.AccountID, start, now)
	if err != nil {
		add(MismatchUsage, "unit count failed: "+err.Error())
		return
	}
	remote, err := s.provider.GetUsage(ctx, sub.ExternalItemID, start, now)
	if err != nil {
		add(MismatchProviderUnreachable, "usage fetch failed: "+err.Error())
		return
	}

	if exceedsPct(local, remote, s.cfg.UsageDiscrepancyPct) {
		add(MismatchUsage, "local units and provider usage diverge beyond threshold")
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// periodStart approximates the current billing period's start from the
// renewal date, falling back to the last 30 days.
func periodStart(sub billing.Subscription, now time.Time) time.Time {
	if sub.RenewsAt != nil && sub.RenewsAt.After(now) {
		return sub.RenewsAt.AddDate(0, -1, 0)
	}
	return now.AddDate(0, -1, 0)
}

func exceedsPct(local, remote, pct int64) bool {
	diff := local - remote
	if diff < 0 {
		diff = -diff
	}
	if local == 0 {
		return remote != 0
	}
	return diff*100 > local*pct
}
