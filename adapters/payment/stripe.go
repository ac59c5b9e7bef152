package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/usagerecord"
	"github.com/stripe/stripe-go/v76/usagerecordsummary"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/billgate/billgate/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	ReturnURL     string
}

// StripeProvider implements ports.PaymentProvider for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// VerifyWebhook validates the Stripe-Signature header over the raw
// body.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) error {
	_, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	return err
}

// GetSubscription retrieves the provider's view of a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, externalID string) (ports.ProviderSubscription, error) {
	s, err := subscription.Get(externalID, nil)
	if err != nil {
		return ports.ProviderSubscription{}, err
	}

	sub := ports.ProviderSubscription{
		ExternalID: s.ID,
		Status:     string(s.Status),
	}
	if len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		sub.VariantID = s.Items.Data[0].Price.ID
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		sub.RenewsAt = &t
	}
	if s.CancelAt > 0 {
		t := time.Unix(s.CancelAt, 0).UTC()
		sub.EndsAt = &t
	}
	return sub, nil
}

// ReportUsage increments metered usage on a subscription item.
func (p *StripeProvider) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(subscriptionItemID),
		Quantity:         stripe.Int64(quantity),
		Timestamp:        stripe.Int64(at.Unix()),
		Action:           stripe.String(string(stripe.UsageRecordActionIncrement)),
	}

	_, err := usagerecord.New(params)
	return err
}

// GetUsage sums usage record summaries whose period overlaps
// [start, end).
func (p *StripeProvider) GetUsage(ctx context.Context, subscriptionItemID string, start, end time.Time) (int64, error) {
	params := &stripe.UsageRecordSummaryListParams{
		SubscriptionItem: stripe.String(subscriptionItemID),
	}

	var total int64
	iter := usagerecordsummary.List(params)
	for iter.Next() {
		s := iter.UsageRecordSummary()
		if s.Period == nil {
			continue
		}
		periodStart := time.Unix(s.Period.Start, 0)
		if periodStart.Before(start) || !periodStart.Before(end) {
			continue
		}
		total += s.TotalUsage
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return total, nil
}

// CreateCheckoutSession creates a Stripe Checkout session. The account
// id rides on the subscription metadata so webhooks can resolve the
// purchasing account.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, accountID, variantID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(p.config.SuccessURL),
		CancelURL:  stripe.String(p.config.CancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(variantID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": accountID},
		},
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// CreatePortalSession creates a billing portal session for the customer
// owning the subscription.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, externalID string) (string, error) {
	s, err := subscription.Get(externalID, nil)
	if err != nil {
		return "", err
	}
	if s.Customer == nil {
		return "", fmt.Errorf("subscription %s has no customer", externalID)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(s.Customer.ID),
		ReturnURL: stripe.String(p.config.ReturnURL),
	}

	ps, err := session.New(params)
	if err != nil {
		return "", err
	}
	return ps.URL, nil
}
