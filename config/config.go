// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Billing   BillingConfig   `yaml:"billing"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Quota     QuotaConfig     `yaml:"quota"`
	Budget    BudgetConfig    `yaml:"budget"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the cost counter store. When Addr is empty the
// server falls back to an in-process store, which is fine for a single
// instance but does not share spend across replicas.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// BillingConfig configures the payment provider.
// Use "none", "lemonsqueezy", or "stripe".
type BillingConfig struct {
	Mode                  string       `yaml:"mode"`
	APIKey                string       `yaml:"api_key,omitempty"`
	StoreID               string       `yaml:"store_id,omitempty"`
	WebhookSecret         string       `yaml:"webhook_secret,omitempty"`
	RedirectURL           string       `yaml:"redirect_url,omitempty"`
	Stripe                StripeConfig `yaml:"stripe,omitempty"`
	MeteredVariantID      string       `yaml:"metered_variant_id"`
	SubscriptionVariantID string       `yaml:"subscription_variant_id"`
}

// StripeConfig holds Stripe-specific settings.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
	SuccessURL    string `yaml:"success_url,omitempty"`
	CancelURL     string `yaml:"cancel_url,omitempty"`
	ReturnURL     string `yaml:"return_url,omitempty"`
}

// ExecutorConfig configures how paid work is performed.
// Use "remote" to delegate to an external HTTP service or "fixed" for a
// flat-price stub.
type ExecutorConfig struct {
	Mode           string        `yaml:"mode"`
	URL            string        `yaml:"url,omitempty"`
	APIKey         string        `yaml:"api_key,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	FixedCostCents int64         `yaml:"fixed_cost_cents,omitempty"`
	FixedTokens    int64         `yaml:"fixed_tokens,omitempty"`
}

// QuotaConfig configures per-tier usage limits.
type QuotaConfig struct {
	TrialLimit        int64 `yaml:"trial_limit"`
	SubscriptionLimit int64 `yaml:"subscription_limit"`
}

// BudgetConfig configures cost circuit breaker caps, in cents.
type BudgetConfig struct {
	CallerDailyCents  int64 `yaml:"caller_daily_cents"`
	GlobalHourlyCents int64 `yaml:"global_hourly_cents"`
	GlobalDailyCents  int64 `yaml:"global_daily_cents"`
}

// ReconcileConfig configures the periodic reconciliation job.
type ReconcileConfig struct {
	Schedule            string        `yaml:"schedule"`
	RenewalTolerance    time.Duration `yaml:"renewal_tolerance"`
	UsageDiscrepancyPct int64         `yaml:"usage_discrepancy_pct"`
	MismatchThreshold   int           `yaml:"mismatch_threshold"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Environment variables always win over file values
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	BILLGATE_DATABASE_DSN            - Database path (default: billgate.db)
//	BILLGATE_SERVER_HOST             - Server host (default: 0.0.0.0)
//	BILLGATE_SERVER_PORT             - Server port (default: 8080)
//	BILLGATE_REDIS_ADDR              - Redis address for the cost breaker
//	BILLGATE_BILLING_MODE            - none, lemonsqueezy, or stripe
//	BILLGATE_BILLING_API_KEY         - Provider API key
//	BILLGATE_BILLING_WEBHOOK_SECRET  - Webhook signing secret
//	BILLGATE_LOG_LEVEL               - debug, info, warn, error (default: info)
//	BILLGATE_LOG_FORMAT              - json or console (default: json)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. Recommended for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set BILLGATE_* environment variables")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("BILLGATE_DATABASE_DSN") != "" || os.Getenv("BILLGATE_BILLING_MODE") != ""
}

// applyEnvOverrides applies BILLGATE_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("BILLGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BILLGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BILLGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("BILLGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("BILLGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Redis configuration
	if v := os.Getenv("BILLGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BILLGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BILLGATE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	// Billing configuration
	if v := os.Getenv("BILLGATE_BILLING_MODE"); v != "" {
		cfg.Billing.Mode = v
	}
	if v := os.Getenv("BILLGATE_BILLING_API_KEY"); v != "" {
		cfg.Billing.APIKey = v
	}
	if v := os.Getenv("BILLGATE_BILLING_STORE_ID"); v != "" {
		cfg.Billing.StoreID = v
	}
	if v := os.Getenv("BILLGATE_BILLING_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("BILLGATE_BILLING_REDIRECT_URL"); v != "" {
		cfg.Billing.RedirectURL = v
	}
	if v := os.Getenv("BILLGATE_BILLING_STRIPE_SECRET_KEY"); v != "" {
		cfg.Billing.Stripe.SecretKey = v
	}
	if v := os.Getenv("BILLGATE_BILLING_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("BILLGATE_BILLING_METERED_VARIANT"); v != "" {
		cfg.Billing.MeteredVariantID = v
	}
	if v := os.Getenv("BILLGATE_BILLING_SUBSCRIPTION_VARIANT"); v != "" {
		cfg.Billing.SubscriptionVariantID = v
	}

	// Quota configuration
	if v := os.Getenv("BILLGATE_QUOTA_TRIAL_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.TrialLimit = n
		}
	}
	if v := os.Getenv("BILLGATE_QUOTA_SUBSCRIPTION_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.SubscriptionLimit = n
		}
	}

	// Budget configuration
	if v := os.Getenv("BILLGATE_BUDGET_CALLER_DAILY_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Budget.CallerDailyCents = n
		}
	}
	if v := os.Getenv("BILLGATE_BUDGET_GLOBAL_HOURLY_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Budget.GlobalHourlyCents = n
		}
	}
	if v := os.Getenv("BILLGATE_BUDGET_GLOBAL_DAILY_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Budget.GlobalDailyCents = n
		}
	}

	// Executor configuration
	if v := os.Getenv("BILLGATE_EXECUTOR_MODE"); v != "" {
		cfg.Executor.Mode = v
	}
	if v := os.Getenv("BILLGATE_EXECUTOR_URL"); v != "" {
		cfg.Executor.URL = v
	}
	if v := os.Getenv("BILLGATE_EXECUTOR_API_KEY"); v != "" {
		cfg.Executor.APIKey = v
	}

	// Reconcile configuration
	if v := os.Getenv("BILLGATE_RECONCILE_SCHEDULE"); v != "" {
		cfg.Reconcile.Schedule = v
	}
	if v := os.Getenv("BILLGATE_RECONCILE_MISMATCH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconcile.MismatchThreshold = n
		}
	}

	// Logging configuration
	if v := os.Getenv("BILLGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BILLGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("BILLGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("BILLGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "billgate.db"
	}

	if cfg.Billing.Mode == "" {
		cfg.Billing.Mode = "none"
	}

	if cfg.Executor.Mode == "" {
		cfg.Executor.Mode = "fixed"
	}
	if cfg.Executor.Mode == "fixed" && cfg.Executor.FixedCostCents == 0 {
		cfg.Executor.FixedCostCents = 1
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 60 * time.Second
	}

	if cfg.Quota.TrialLimit == 0 {
		cfg.Quota.TrialLimit = 10
	}
	if cfg.Quota.SubscriptionLimit == 0 {
		cfg.Quota.SubscriptionLimit = 500
	}

	if cfg.Budget.CallerDailyCents == 0 {
		cfg.Budget.CallerDailyCents = 500
	}
	if cfg.Budget.GlobalHourlyCents == 0 {
		cfg.Budget.GlobalHourlyCents = 2000
	}
	if cfg.Budget.GlobalDailyCents == 0 {
		cfg.Budget.GlobalDailyCents = 10000
	}

	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = "0 3 * * *"
	}
	if cfg.Reconcile.RenewalTolerance == 0 {
		cfg.Reconcile.RenewalTolerance = time.Hour
	}
	if cfg.Reconcile.UsageDiscrepancyPct == 0 {
		cfg.Reconcile.UsageDiscrepancyPct = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validBillingModes := map[string]bool{
		"none": true, "lemonsqueezy": true, "stripe": true,
	}
	if !validBillingModes[cfg.Billing.Mode] {
		return fmt.Errorf("billing.mode must be one of: none, lemonsqueezy, stripe; got %q", cfg.Billing.Mode)
	}

	if cfg.Billing.Mode == "lemonsqueezy" {
		if cfg.Billing.APIKey == "" {
			return fmt.Errorf("billing.api_key is required when billing.mode is 'lemonsqueezy'")
		}
		if cfg.Billing.StoreID == "" {
			return fmt.Errorf("billing.store_id is required when billing.mode is 'lemonsqueezy'")
		}
		if cfg.Billing.WebhookSecret == "" {
			return fmt.Errorf("billing.webhook_secret is required when billing.mode is 'lemonsqueezy'")
		}
	}

	if cfg.Billing.Mode == "stripe" {
		if cfg.Billing.Stripe.SecretKey == "" {
			return fmt.Errorf("billing.stripe.secret_key is required when billing.mode is 'stripe'")
		}
		if cfg.Billing.Stripe.WebhookSecret == "" {
			return fmt.Errorf("billing.stripe.webhook_secret is required when billing.mode is 'stripe'")
		}
	}

	if cfg.Billing.Mode != "none" {
		if cfg.Billing.MeteredVariantID == "" || cfg.Billing.SubscriptionVariantID == "" {
			return fmt.Errorf("billing.metered_variant_id and billing.subscription_variant_id are required when billing is enabled")
		}
		if cfg.Billing.MeteredVariantID == cfg.Billing.SubscriptionVariantID {
			return fmt.Errorf("billing.metered_variant_id and billing.subscription_variant_id must differ")
		}
	}

	validExecutorModes := map[string]bool{"remote": true, "fixed": true}
	if !validExecutorModes[cfg.Executor.Mode] {
		return fmt.Errorf("executor.mode must be 'remote' or 'fixed', got %q", cfg.Executor.Mode)
	}
	if cfg.Executor.Mode == "remote" && cfg.Executor.URL == "" {
		return fmt.Errorf("executor.url is required when executor.mode is 'remote'")
	}

	if cfg.Quota.TrialLimit < 0 || cfg.Quota.SubscriptionLimit < 0 {
		return fmt.Errorf("quota limits must not be negative")
	}

	if cfg.Budget.CallerDailyCents < 0 || cfg.Budget.GlobalHourlyCents < 0 || cfg.Budget.GlobalDailyCents < 0 {
		return fmt.Errorf("budget caps must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	return nil
}
