// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/billgate/billgate/domain/billing"
)

// Sentinel errors shared by every repository implementation, so the app
// layer can branch without knowing the storage backend.
var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("already exists")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// AccountRepo persists account billing state.
type AccountRepo interface {
	// Get retrieves an account by ID.
	Get(ctx context.Context, id string) (billing.Account, error)

	// GetOrCreate retrieves an account, creating a trial account on
	// first contact.
	GetOrCreate(ctx context.Context, id string, now time.Time) (billing.Account, error)

	// Update writes all mutable fields absolutely.
	Update(ctx context.Context, acct billing.Account) error

	// IncrementUsage atomically bumps the usage counter and returns
	// the new count. Never a read-modify-write.
	IncrementUsage(ctx context.Context, id string, now time.Time) (int64, error)
}

// SubscriptionRepo persists subscription records.
type SubscriptionRepo interface {
	// GetByExternalID retrieves a subscription by provider id.
	GetByExternalID(ctx context.Context, externalID string) (billing.Subscription, error)

	// GetByAccount retrieves the most recent subscription for an account.
	GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error)

	// GetActiveByAccount retrieves the active subscription for an account.
	GetActiveByAccount(ctx context.Context, accountID string) (billing.Subscription, error)

	// Create stores a new subscription. Returns the store's duplicate
	// error when the external id already exists.
	Create(ctx context.Context, sub billing.Subscription) error

	// Update modifies a subscription.
	Update(ctx context.Context, sub billing.Subscription) error

	// UpdateRenewsAtByExternalID advances the renewal date addressed by
	// provider id. Best effort: affecting zero rows is not an error.
	UpdateRenewsAtByExternalID(ctx context.Context, externalID string, renewsAt time.Time, now time.Time) error

	// ListActive returns all active subscriptions (reconciliation).
	ListActive(ctx context.Context) ([]billing.Subscription, error)
}

// EventLedger is the append-only idempotency ledger.
type EventLedger interface {
	// RecordIfNew inserts the event key, failing silently on duplicate.
	// Returns false when the key was already recorded. Must run inside
	// the same transaction as the state mutation it guards.
	RecordIfNew(ctx context.Context, key string, payload []byte, at time.Time) (bool, error)
}

// UsageUnitRepo persists completed units of paid work.
type UsageUnitRepo interface {
	// Create stores a new usage unit.
	Create(ctx context.Context, unit billing.UsageUnit) error

	// Get retrieves a usage unit by ID.
	Get(ctx context.Context, id string) (billing.UsageUnit, error)

	// MarkReported flips usage_reported false -> true. Idempotent.
	MarkReported(ctx context.Context, id string) error

	// CountForAccount returns units recorded in [start, end) for an
	// account (reconciliation).
	CountForAccount(ctx context.Context, accountID string, start, end time.Time) (int64, error)
}

// UnitOfWork groups the repositories sharing one transactional scope.
// Handlers receive it by reference and stay storage-agnostic.
type UnitOfWork interface {
	Accounts() AccountRepo
	Subscriptions() SubscriptionRepo
	Events() EventLedger
	Units() UsageUnitRepo
}

// DataStore is a UnitOfWork over the base connection plus the ability
// to open an atomic scope. Everything inside fn commits or rolls back
// together.
type DataStore interface {
	UnitOfWork

	InTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// CostCounterStore is the fast shared store backing the cost circuit
// breaker. Values are monetary cents; mutation is atomic
// increment-with-expiry only.
type CostCounterStore interface {
	// IncrBy atomically adds cents to key, arming the TTL on first write.
	IncrBy(ctx context.Context, key string, cents int64, ttl time.Duration) error

	// GetMulti returns current values for keys; missing keys read as 0.
	GetMulti(ctx context.Context, keys ...string) ([]int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// ProviderSubscription is the provider's own view of a subscription,
// used by reconciliation as the source of truth.
type ProviderSubscription struct {
	ExternalID string
	Status     string
	VariantID  string
	RenewsAt   *time.Time
	EndsAt     *time.Time
}

// PaymentProvider interfaces with the external payment processor.
type PaymentProvider interface {
	// Name returns the provider name (e.g. "lemonsqueezy", "stripe").
	Name() string

	// VerifyWebhook checks the signature over the raw body in constant
	// time.
	VerifyWebhook(payload []byte, signature string) error

	// GetSubscription retrieves the provider's view of a subscription.
	GetSubscription(ctx context.Context, externalID string) (ProviderSubscription, error)

	// ReportUsage reports metered consumption for a subscription item.
	ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error

	// GetUsage returns provider-reported consumption for a subscription
	// item over a period (reconciliation).
	GetUsage(ctx context.Context, subscriptionItemID string, start, end time.Time) (int64, error)

	// CreateCheckoutSession returns a redirect URL for purchasing a plan
	// variant. The account id travels in the checkout custom data so the
	// created webhook can resolve the caller.
	CreateCheckoutSession(ctx context.Context, accountID, variantID string) (string, error)

	// CreatePortalSession returns a subscription management URL.
	CreatePortalSession(ctx context.Context, externalSubscriptionID string) (string, error)
}

// -----------------------------------------------------------------------------
// Paid Work Ports
// -----------------------------------------------------------------------------

// WorkRequest describes one unit of paid work. Mode is informational
// only; every variant draws from the same quota.
type WorkRequest struct {
	AccountID string
	Mode      string
	Input     string
}

// WorkResult is what a completed unit of paid work cost.
type WorkResult struct {
	Output    string
	CostCents int64
	Tokens    int64
}

// WorkExecutor performs the paid work itself (the LLM call). The core
// treats it as an opaque collaborator that returns a real cost.
type WorkExecutor interface {
	Execute(ctx context.Context, req WorkRequest) (WorkResult, error)
}
