package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// CheckoutService brokers provider-hosted purchase and management URLs.
// It owns no payment UI; the provider hosts everything.
type CheckoutService struct {
	store    ports.DataStore
	provider ports.PaymentProvider
	clock    ports.Clock
	plans    billing.PlanMap
	logger   zerolog.Logger
}

// NewCheckoutService creates a checkout/portal URL broker.
func NewCheckoutService(
	store ports.DataStore,
	provider ports.PaymentProvider,
	clock ports.Clock,
	plans billing.PlanMap,
	logger zerolog.Logger,
) *CheckoutService {
	return &CheckoutService{
		store:    store,
		provider: provider,
		clock:    clock,
		plans:    plans,
		logger:   logger,
	}
}

// CheckoutURL returns a provider checkout for the named tier. The
// account is provisioned first so the eventual created webhook always
// finds it.
func (s *CheckoutService) CheckoutURL(ctx context.Context, accountID string, tier billing.Tier) (string, error) {
	var variantID string
	switch tier {
	case billing.TierMetered:
		variantID = s.plans.MeteredVariantID
	case billing.TierSubscription:
		variantID = s.plans.SubscriptionVariantID
	default:
		return "", fmt.Errorf("tier %q is not purchasable", tier)
	}

	if _, err := s.store.Accounts().GetOrCreate(ctx, accountID, s.clock.Now().UTC()); err != nil {
		return "", err
	}

	url, err := s.provider.CreateCheckoutSession(ctx, accountID, variantID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("tier", string(tier)).
			Msg("checkout session failed")
		return "", err
	}
	return url, nil
}

// PortalURL returns the provider's management portal for the account's
// active subscription.
func (s *CheckoutService) PortalURL(ctx context.Context, accountID string) (string, error) {
	sub, err := s.store.Subscriptions().GetActiveByAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.provider.CreatePortalSession(ctx, sub.ExternalID)
}
