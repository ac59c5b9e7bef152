package payment

import (
	"fmt"

	"github.com/billgate/billgate/ports"
)

// Config selects and configures a payment provider.
type Config struct {
	Provider     string
	LemonSqueezy LemonSqueezyConfig
	Stripe       StripeConfig
}

// NewProvider creates a payment provider from config.
func NewProvider(cfg Config) (ports.PaymentProvider, error) {
	switch cfg.Provider {
	case "lemonsqueezy":
		if cfg.LemonSqueezy.APIKey == "" || cfg.LemonSqueezy.StoreID == "" {
			return nil, fmt.Errorf("lemonsqueezy API key and store ID are required")
		}
		return NewLemonSqueezyProvider(cfg.LemonSqueezy), nil

	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProvider(cfg.Stripe), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
	}
}
