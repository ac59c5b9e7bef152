// Package billing provides the subscription lifecycle value types and the
// pure state machine that maps provider webhook events onto them.
package billing

import "time"

// Tier represents an account's billing tier.
type Tier string

const (
	TierTrial        Tier = "trial"
	TierMetered      Tier = "metered"
	TierSubscription Tier = "subscription"
	TierCancelled    Tier = "cancelled"
)

// SubscriptionStatus represents subscription state as reported by the provider.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Account represents a product user's billing-relevant state (value type).
type Account struct {
	ID                 string
	Tier               Tier
	UsageCount         int64
	UsageResetAt       *time.Time // subscription tier only
	ExternalCustomerID string     // unique when present
	TrialStartedAt     time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription represents one external billing agreement (value type).
type Subscription struct {
	ID               string
	AccountID        string
	ExternalID       string // globally unique provider subscription id
	ExternalItemID   string // required for metered usage reporting
	Status           SubscriptionStatus
	Tier             Tier // metered or subscription
	RenewsAt         *time.Time
	EndsAt           *time.Time
	BillingAnchorDay int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive returns true if the subscription is in an active state.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// GracePeriodOver reports whether a cancelled subscription's paid period
// has elapsed. A cancelled subscription with a future EndsAt still grants
// its tier until that date passes.
func (s Subscription) GracePeriodOver(now time.Time) bool {
	if s.Status != SubscriptionStatusCancelled {
		return false
	}
	return s.EndsAt == nil || !s.EndsAt.After(now)
}

// EffectiveTier resolves the tier an account is entitled to right now,
// honoring a cancelled subscription's grace period. It never mutates;
// the durable downgrade happens on the expired event.
func EffectiveTier(acct Account, sub *Subscription, now time.Time) Tier {
	if acct.Tier == TierTrial || acct.Tier == TierCancelled {
		return acct.Tier
	}
	if sub == nil {
		return acct.Tier
	}
	switch sub.Status {
	case SubscriptionStatusExpired:
		return TierTrial
	case SubscriptionStatusCancelled:
		if sub.GracePeriodOver(now) {
			return TierTrial
		}
	}
	return acct.Tier
}

// UsageUnit records one completed unit of paid work (value type).
type UsageUnit struct {
	ID            string
	AccountID     string
	CostCents     int64
	Tokens        int64
	UsageReported bool
	CreatedAt     time.Time
}
