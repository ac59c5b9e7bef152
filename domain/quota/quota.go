// Package quota provides pure functions for usage-limit enforcement.
// All functions are deterministic with no side effects.
package quota

import "github.com/billgate/billgate/domain/billing"

// Unlimited marks a tier with no count-based limit.
const Unlimited int64 = -1

// ReasonLimitExceeded is the designed rejection condition consumed by
// callers to produce an upgrade prompt. It is not an error.
const ReasonLimitExceeded = "usage_limit_exceeded"

// Limits holds the per-tier quota sizes, sourced from configuration.
type Limits struct {
	TrialQuota        int64
	SubscriptionQuota int64
}

// CheckResult represents the outcome of a usage-limit check (value type).
type CheckResult struct {
	Allowed   bool
	Used      int64
	Limit     int64 // Unlimited for metered accounts
	Remaining int64 // Unlimited for metered accounts
	Tier      billing.Tier
	Reason    string
}

// LimitFor returns the quota for a tier. Metered accounts are unlimited;
// cancelled accounts fall back to the trial quota.
func LimitFor(tier billing.Tier, lim Limits) int64 {
	switch tier {
	case billing.TierMetered:
		return Unlimited
	case billing.TierSubscription:
		return lim.SubscriptionQuota
	default:
		return lim.TrialQuota
	}
}

// Check decides whether one more unit of paid work is allowed. The
// quota is inclusive: with used == limit the quota-th unit has already
// run, so the next one is rejected. Counting is mode-agnostic; every
// unit draws from the same counter regardless of request variant.
func Check(tier billing.Tier, used int64, lim Limits) CheckResult {
	limit := LimitFor(tier, lim)
	if limit == Unlimited {
		return CheckResult{
			Allowed:   true,
			Used:      used,
			Limit:     Unlimited,
			Remaining: Unlimited,
			Tier:      tier,
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	result := CheckResult{
		Allowed:   used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		Tier:      tier,
	}
	if !result.Allowed {
		result.Reason = ReasonLimitExceeded
	}
	return result
}
