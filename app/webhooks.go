// Package app wires the pure domain logic to storage, counters and the
// payment provider. Services hold no state of their own; all I/O goes
// through injected ports.
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

// WebhookResult reports how a delivery was disposed of. Every disposal
// except an error is acknowledged to the provider.
type WebhookResult struct {
	EventType string
	Duplicate bool
	Ignored   bool // unrecognized event type, acknowledged and skipped
}

// WebhookService applies provider webhook events to billing state.
// Each delivery runs in one transaction together with its idempotency
// ledger insert, so a replay can never half-apply.
type WebhookService struct {
	store   ports.DataStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	plans   billing.PlanMap
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewWebhookService creates a webhook service.
func NewWebhookService(
	store ports.DataStore,
	clock ports.Clock,
	idGen ports.IDGenerator,
	plans billing.PlanMap,
	m *metrics.Collector,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		store:   store,
		clock:   clock,
		idGen:   idGen,
		plans:   plans,
		metrics: m,
		logger:  logger,
	}
}

// Process parses and applies one verified webhook delivery. The raw
// body must already have passed signature verification.
func (s *WebhookService) Process(ctx context.Context, body []byte) (WebhookResult, error) {
	ev, err := billing.ParseEvent(body)
	if errors.Is(err, billing.ErrUnknownEvent) {
		s.logger.Debug().
			Str("event_type", string(ev.Type)).
			Msg("ignoring unrecognized webhook event")
		s.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "unknown").Inc()
		return WebhookResult{EventType: string(ev.Type), Ignored: true}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}

	now := s.clock.Now().UTC()
	timer := s.clock.Now()
	res := WebhookResult{EventType: string(ev.Type)}

	err = s.store.InTx(ctx, func(u ports.UnitOfWork) error {
		fresh, err := u.Events().RecordIfNew(ctx, ev.Key(), ev.Raw, now)
		if err != nil {
			return err
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}
		return s.apply(ctx, u, ev, now)
	})

	s.metrics.WebhookDuration.WithLabelValues(string(ev.Type)).
		Observe(s.clock.Now().Sub(timer).Seconds())

	switch {
	case err != nil:
		s.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "error").Inc()
		s.logger.Error().Err(err).
			Str("event_type", string(ev.Type)).
			Str("subscription_id", ev.SubscriptionID).
			Msg("webhook processing failed")
		return WebhookResult{}, err
	case res.Duplicate:
		s.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
		s.metrics.WebhookDuplicates.Inc()
		s.logger.Info().
			Str("event_key", ev.Key()).
			Msg("duplicate webhook delivery suppressed")
	default:
		s.metrics.WebhookEvents.WithLabelValues(string(ev.Type), "applied").Inc()
		s.logger.Info().
			Str("event_type", string(ev.Type)).
			Str("subscription_id", ev.SubscriptionID).
			Msg("webhook event applied")
	}
	return res, nil
}

func (s *WebhookService) apply(ctx context.Context, u ports.UnitOfWork, ev billing.Event, now time.Time) error {
	var current *billing.Subscription
	sub, err := u.Subscriptions().GetByExternalID(ctx, ev.SubscriptionID)
	switch {
	case err == nil:
		current = &sub
	case errors.Is(err, ports.ErrNotFound):
		current = nil
	default:
		return err
	}

	// A created event must also see any active subscription the account
	// already holds under a different provider id, or the one-active
	// rule only binds per external id.
	if current == nil && ev.Type == billing.EventSubscriptionCreated && ev.UserID != "" {
		existing, err := u.Subscriptions().GetActiveByAccount(ctx, ev.UserID)
		switch {
		case err == nil:
			current = &existing
		case errors.Is(err, ports.ErrNotFound):
		default:
			return err
		}
	}

	// Payment events for a subscription we have never seen are applied
	// best effort: restate the renewal date if the row shows up later,
	// skip the account-side reset. Reconciliation surfaces the drift.
	if current == nil && ev.Type.IsPayment() {
		s.logger.Warn().
			Str("event_type", string(ev.Type)).
			Str("subscription_id", ev.SubscriptionID).
			Msg("payment event for unknown subscription")
		if ev.RenewsAt != nil {
			return u.Subscriptions().UpdateRenewsAtByExternalID(ctx, ev.SubscriptionID, *ev.RenewsAt, now)
		}
		return nil
	}

	out, err := billing.Transition(current, ev, now, s.plans)
	if err != nil {
		return err
	}
	accountID := out.Subscription.AccountID

	if out.Create {
		out.Subscription.ID = s.idGen.New()
		if _, err := u.Accounts().GetOrCreate(ctx, accountID, now); err != nil {
			return err
		}
		if err := u.Subscriptions().Create(ctx, out.Subscription); err != nil {
			return err
		}
	} else {
		if err := u.Subscriptions().Update(ctx, out.Subscription); err != nil {
			return err
		}
	}

	if !out.SetTier && !out.ResetUsage && !out.AlignResetAt && !out.ClearUsageResetAt {
		return nil
	}

	acct, err := u.Accounts().Get(ctx, accountID)
	if err != nil {
		return err
	}
	if out.SetTier {
		acct.Tier = out.Tier
	}
	if out.ResetUsage {
		acct.UsageCount = 0
	}
	if out.AlignResetAt {
		acct.UsageResetAt = out.UsageResetAt
	}
	if out.ClearUsageResetAt {
		acct.UsageResetAt = nil
	}
	if out.Create && ev.CustomerID != "" {
		acct.ExternalCustomerID = ev.CustomerID
	}
	acct.UpdatedAt = now
	return u.Accounts().Update(ctx, acct)
}
