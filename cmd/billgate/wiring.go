package main

import (
	"os"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/executor"
	"github.com/billgate/billgate/adapters/memory"
	"github.com/billgate/billgate/adapters/payment"
	redisadapter "github.com/billgate/billgate/adapters/redis"
	"github.com/billgate/billgate/config"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/domain/budget"
	"github.com/billgate/billgate/domain/quota"
	"github.com/billgate/billgate/ports"
)

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func paymentConfig(cfg *config.Config) payment.Config {
	return payment.Config{
		Provider: cfg.Billing.Mode,
		LemonSqueezy: payment.LemonSqueezyConfig{
			APIKey:        cfg.Billing.APIKey,
			StoreID:       cfg.Billing.StoreID,
			WebhookSecret: cfg.Billing.WebhookSecret,
			RedirectURL:   cfg.Billing.RedirectURL,
		},
		Stripe: payment.StripeConfig{
			SecretKey:     cfg.Billing.Stripe.SecretKey,
			WebhookSecret: cfg.Billing.Stripe.WebhookSecret,
			SuccessURL:    cfg.Billing.Stripe.SuccessURL,
			CancelURL:     cfg.Billing.Stripe.CancelURL,
			ReturnURL:     cfg.Billing.Stripe.ReturnURL,
		},
	}
}

func planMap(cfg *config.Config) billing.PlanMap {
	return billing.PlanMap{
		MeteredVariantID:      cfg.Billing.MeteredVariantID,
		SubscriptionVariantID: cfg.Billing.SubscriptionVariantID,
	}
}

func quotaLimits(cfg *config.Config) quota.Limits {
	return quota.Limits{
		TrialQuota:        cfg.Quota.TrialLimit,
		SubscriptionQuota: cfg.Quota.SubscriptionLimit,
	}
}

func budgetCaps(cfg *config.Config) budget.Caps {
	return budget.Caps{
		CallerDailyCents:  cfg.Budget.CallerDailyCents,
		GlobalHourlyCents: cfg.Budget.GlobalHourlyCents,
		GlobalDailyCents:  cfg.Budget.GlobalDailyCents,
	}
}

func buildCounters(cfg *config.Config, logger zerolog.Logger) ports.CostCounterStore {
	if cfg.Redis.Addr == "" {
		logger.Warn().Msg("no redis configured, cost counters are in-process only")
		return memory.NewCostCounterStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return redisadapter.NewCostCounterStore(client)
}

func buildExecutor(cfg config.ExecutorConfig) ports.WorkExecutor {
	if cfg.Mode == "remote" {
		return executor.NewRemote(executor.RemoteConfig{
			URL:     cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	}
	return executor.NewFixed(cfg.FixedCostCents, cfg.FixedTokens)
}
