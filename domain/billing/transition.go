package billing

import (
	"errors"
	"time"
)

// Transition errors. These abort the surrounding transaction so the
// provider retries the delivery.
var (
	ErrMissingUserID  = errors.New("created event has no resolvable user id")
	ErrNoSubscription = errors.New("no subscription for event")
	ErrUnknownVariant = errors.New("purchased variant matches no configured plan")
	ErrAlreadyActive  = errors.New("account already has an active subscription")
)

// PlanMap maps provider plan variants onto tiers. Both ids come from
// configuration and are validated at startup.
type PlanMap struct {
	MeteredVariantID      string
	SubscriptionVariantID string
}

// TierFor returns the tier granted by a purchased variant.
func (p PlanMap) TierFor(variantID string) (Tier, bool) {
	switch variantID {
	case p.MeteredVariantID:
		return TierMetered, true
	case p.SubscriptionVariantID:
		return TierSubscription, true
	}
	return "", false
}

// VariantFor returns the variant id that grants a tier, if one is
// configured.
func (p PlanMap) VariantFor(tier Tier) (string, bool) {
	switch tier {
	case TierMetered:
		return p.MeteredVariantID, p.MeteredVariantID != ""
	case TierSubscription:
		return p.SubscriptionVariantID, p.SubscriptionVariantID != ""
	}
	return "", false
}

// Outcome is the full effect of one event: the subscription record to
// write and the account-side directives. The caller applies everything
// in one transaction; the account's usage reset date and the
// subscription's renewal date only ever move together.
type Outcome struct {
	Create       bool         // insert Subscription instead of updating
	Subscription Subscription // record to persist

	SetTier bool
	Tier    Tier

	ResetUsage        bool       // zero the usage counter
	UsageResetAt      *time.Time // new reset anchor when set
	AlignResetAt      bool       // write UsageResetAt (possibly nil-clearing)
	ClearUsageResetAt bool
}

// Transition applies one event to the current subscription state. It is
// a pure function: same inputs, same outputs, no I/O. current is nil
// only for created events; every other event requires an existing
// record (the app layer decides what a failed lookup means per event).
func Transition(current *Subscription, ev Event, now time.Time, plans PlanMap) (Outcome, error) {
	switch ev.Type {
	case EventSubscriptionCreated:
		return transitionCreated(current, ev, now, plans)
	case EventSubscriptionUpdated:
		return transitionUpdated(current, ev, now)
	case EventSubscriptionCancelled:
		return transitionCancelled(current, ev, now)
	case EventSubscriptionResumed:
		return transitionResumed(current, ev, now)
	case EventSubscriptionExpired:
		return transitionExpired(current, ev, now)
	case EventSubscriptionPaused:
		return transitionPaused(current, ev, now)
	case EventSubscriptionUnpaused:
		return transitionUnpaused(current, ev, now)
	case EventPaymentSuccess:
		return transitionPaymentSuccess(current, ev, now)
	case EventPaymentFailed:
		return transitionSetStatus(current, ev, now, SubscriptionStatusPastDue)
	case EventPaymentRecovered:
		return transitionPaymentRecovered(current, ev, now)
	}
	return Outcome{}, ErrUnknownEvent
}

func transitionCreated(current *Subscription, ev Event, now time.Time, plans PlanMap) (Outcome, error) {
	if ev.UserID == "" {
		return Outcome{}, ErrMissingUserID
	}
	if current != nil && current.IsActive() {
		return Outcome{}, ErrAlreadyActive
	}
	tier, ok := plans.TierFor(ev.VariantID)
	if !ok {
		return Outcome{}, ErrUnknownVariant
	}

	sub := Subscription{
		AccountID:        ev.UserID,
		ExternalID:       ev.SubscriptionID,
		ExternalItemID:   ev.ItemID,
		Status:           SubscriptionStatusActive,
		Tier:             tier,
		RenewsAt:         ev.RenewsAt,
		EndsAt:           nil,
		BillingAnchorDay: ev.BillingAnchor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	out := Outcome{
		Create:       true,
		Subscription: sub,
		SetTier:      true,
		Tier:         tier,
	}
	if tier == TierSubscription {
		out.ResetUsage = true
		out.UsageResetAt = ev.RenewsAt
		out.AlignResetAt = true
	}
	return out, nil
}

// transitionUpdated patches status and dates only; it never changes the
// account tier. Absolute values from the payload, not deltas, so
// reordered deliveries converge.
func transitionUpdated(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	if ev.Status != "" {
		sub.Status = SubscriptionStatus(ev.Status)
	}
	if ev.RenewsAt != nil {
		sub.RenewsAt = ev.RenewsAt
	}
	sub.EndsAt = ev.EndsAt
	sub.UpdatedAt = now

	out := Outcome{Subscription: sub}
	// A later event restating the renewal date also restates the reset
	// anchor; this is what recovers a missed payment_success.
	if sub.Tier == TierSubscription && ev.RenewsAt != nil && sub.IsActive() {
		out.UsageResetAt = ev.RenewsAt
		out.AlignResetAt = true
	}
	return out, nil
}

func transitionCancelled(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = SubscriptionStatusCancelled
	sub.EndsAt = ev.EndsAt
	sub.UpdatedAt = now

	out := Outcome{Subscription: sub}
	// Immediate downgrade only when the paid period is already over;
	// otherwise the tier survives until EndsAt (grace period).
	if sub.GracePeriodOver(now) {
		out.SetTier = true
		out.Tier = TierTrial
		out.ClearUsageResetAt = true
	}
	return out, nil
}

func transitionResumed(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = SubscriptionStatusActive
	sub.EndsAt = nil
	if ev.RenewsAt != nil {
		sub.RenewsAt = ev.RenewsAt
	}
	sub.UpdatedAt = now

	out := Outcome{
		Subscription: sub,
		SetTier:      true,
		Tier:         sub.Tier,
	}
	if sub.Tier == TierSubscription {
		out.UsageResetAt = sub.RenewsAt
		out.AlignResetAt = true
	}
	return out, nil
}

func transitionExpired(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = SubscriptionStatusExpired
	endsAt := now
	sub.EndsAt = &endsAt
	sub.UpdatedAt = now

	return Outcome{
		Subscription:      sub,
		SetTier:           true,
		Tier:              TierTrial,
		ClearUsageResetAt: true,
	}, nil
}

func transitionPaused(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = SubscriptionStatusPaused
	sub.UpdatedAt = now
	return Outcome{Subscription: sub}, nil
}

func transitionUnpaused(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = SubscriptionStatusActive
	if ev.RenewsAt != nil {
		sub.RenewsAt = ev.RenewsAt
	}
	sub.UpdatedAt = now
	return Outcome{Subscription: sub}, nil
}

// transitionPaymentSuccess advances the renewal date and, on the
// subscription tier, resets the usage counter to the new period. The
// two writes land in the same transaction so the reset anchor can never
// drift from the renewal date here.
func transitionPaymentSuccess(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	if ev.RenewsAt != nil {
		sub.RenewsAt = ev.RenewsAt
	}
	sub.UpdatedAt = now

	out := Outcome{Subscription: sub}
	if sub.Tier == TierSubscription {
		out.ResetUsage = true
		out.UsageResetAt = sub.RenewsAt
		out.AlignResetAt = true
	}
	return out, nil
}

func transitionPaymentRecovered(current *Subscription, ev Event, now time.Time) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	status := SubscriptionStatusActive
	if ev.Status != "" {
		status = SubscriptionStatus(ev.Status)
	}
	sub := *current
	sub.Status = status
	sub.UpdatedAt = now
	return Outcome{Subscription: sub}, nil
}

func transitionSetStatus(current *Subscription, ev Event, now time.Time, status SubscriptionStatus) (Outcome, error) {
	if current == nil {
		return Outcome{}, ErrNoSubscription
	}
	sub := *current
	sub.Status = status
	sub.UpdatedAt = now
	return Outcome{Subscription: sub}, nil
}
