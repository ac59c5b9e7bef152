package payment

import (
	"context"
	"errors"
	"time"

	"github.com/billgate/billgate/ports"
)

// ErrNoProvider is returned by the noop provider for every operation
// that needs a real payment processor.
var ErrNoProvider = errors.New("no payment provider configured")

// NoopProvider is used when billing runs without a payment processor.
// Webhook verification always fails, so stray deliveries are rejected.
type NoopProvider struct{}

// NewNoopProvider creates a provider that declines everything.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (p *NoopProvider) Name() string { return "none" }

func (p *NoopProvider) VerifyWebhook(payload []byte, signature string) error {
	return ErrNoProvider
}

func (p *NoopProvider) GetSubscription(ctx context.Context, externalID string) (ports.ProviderSubscription, error) {
	return ports.ProviderSubscription{}, ErrNoProvider
}

func (p *NoopProvider) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	return ErrNoProvider
}

func (p *NoopProvider) GetUsage(ctx context.Context, subscriptionItemID string, start, end time.Time) (int64, error) {
	return 0, ErrNoProvider
}

func (p *NoopProvider) CreateCheckoutSession(ctx context.Context, accountID, variantID string) (string, error) {
	return "", ErrNoProvider
}

func (p *NoopProvider) CreatePortalSession(ctx context.Context, externalID string) (string, error) {
	return "", ErrNoProvider
}
