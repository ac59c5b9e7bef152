package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// memStore is an in-memory ports.DataStore for service tests. InTx
// snapshots state up front and restores it when fn fails, mimicking a
// real rollback.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]billing.Account
	subs     map[string]billing.Subscription // keyed by internal id
	events   map[string][]byte
	units    map[string]billing.UsageUnit

	failAccountUpdate bool
	failUnitCreate    bool
	failActiveLookup  error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]billing.Account{},
		subs:     map[string]billing.Subscription{},
		events:   map[string][]byte{},
		units:    map[string]billing.UsageUnit{},
	}
}

func (m *memStore) Accounts() ports.AccountRepo           { return (*memAccounts)(m) }
func (m *memStore) Subscriptions() ports.SubscriptionRepo { return (*memSubs)(m) }
func (m *memStore) Events() ports.EventLedger             { return (*memEvents)(m) }
func (m *memStore) Units() ports.UsageUnitRepo            { return (*memUnits)(m) }

func (m *memStore) InTx(ctx context.Context, fn func(ports.UnitOfWork) error) error {
	m.mu.Lock()
	accounts := cloneMap(m.accounts)
	subs := cloneMap(m.subs)
	events := cloneMap(m.events)
	units := cloneMap(m.units)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.accounts, m.subs, m.events, m.units = accounts, subs, events, units
		m.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type memAccounts memStore

func (m *memAccounts) Get(ctx context.Context, id string) (billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return billing.Account{}, ports.ErrNotFound
	}
	return acct, nil
}

func (m *memAccounts) GetOrCreate(ctx context.Context, id string, now time.Time) (billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[id]; ok {
		return acct, nil
	}
	acct := billing.Account{
		ID:             id,
		Tier:           billing.TierTrial,
		TrialStartedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.accounts[id] = acct
	return acct, nil
}

func (m *memAccounts) Update(ctx context.Context, acct billing.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAccountUpdate {
		return errors.New("account update failed")
	}
	if _, ok := m.accounts[acct.ID]; !ok {
		return ports.ErrNotFound
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *memAccounts) IncrementUsage(ctx context.Context, id string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return 0, ports.ErrNotFound
	}
	acct.UsageCount++
	acct.UpdatedAt = now
	m.accounts[id] = acct
	return acct.UsageCount, nil
}

type memSubs memStore

func (m *memSubs) GetByExternalID(ctx context.Context, externalID string) (billing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.ExternalID == externalID {
			return sub, nil
		}
	}
	return billing.Subscription{}, ports.ErrNotFound
}

func (m *memSubs) GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *billing.Subscription
	for _, sub := range m.subs {
		sub := sub
		if sub.AccountID != accountID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = &sub
		}
	}
	if latest == nil {
		return billing.Subscription{}, ports.ErrNotFound
	}
	return *latest, nil
}

func (m *memSubs) GetActiveByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failActiveLookup != nil {
		return billing.Subscription{}, m.failActiveLookup
	}
	for _, sub := range m.subs {
		if sub.AccountID == accountID && sub.IsActive() {
			return sub, nil
		}
	}
	return billing.Subscription{}, ports.ErrNotFound
}

func (m *memSubs) Create(ctx context.Context, sub billing.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if existing.ExternalID == sub.ExternalID {
			return ports.ErrDuplicate
		}
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *memSubs) Update(ctx context.Context, sub billing.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ports.ErrNotFound
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *memSubs) UpdateRenewsAtByExternalID(ctx context.Context, externalID string, renewsAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		if sub.ExternalID == externalID {
			sub.RenewsAt = &renewsAt
			sub.UpdatedAt = now
			m.subs[id] = sub
		}
	}
	return nil
}

func (m *memSubs) ListActive(ctx context.Context) ([]billing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Subscription
	for _, sub := range m.subs {
		if sub.IsActive() {
			out = append(out, sub)
		}
	}
	return out, nil
}

type memEvents memStore

func (m *memEvents) RecordIfNew(ctx context.Context, key string, payload []byte, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[key]; ok {
		return false, nil
	}
	m.events[key] = payload
	return true, nil
}

type memUnits memStore

func (m *memUnits) Create(ctx context.Context, unit billing.UsageUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUnitCreate {
		return errors.New("unit create failed")
	}
	m.units[unit.ID] = unit
	return nil
}

func (m *memUnits) Get(ctx context.Context, id string) (billing.UsageUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return billing.UsageUnit{}, ports.ErrNotFound
	}
	return unit, nil
}

func (m *memUnits) MarkReported(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return ports.ErrNotFound
	}
	unit.UsageReported = true
	m.units[id] = unit
	return nil
}

func (m *memUnits) CountForAccount(ctx context.Context, accountID string, start, end time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, unit := range m.units {
		if unit.AccountID == accountID && !unit.CreatedAt.Before(start) && unit.CreatedAt.Before(end) {
			n++
		}
	}
	return n, nil
}

// stubProvider records calls and returns canned answers.
type stubProvider struct {
	mu sync.Mutex

	subs     map[string]ports.ProviderSubscription
	usage    map[string]int64
	reports  []string // item ids, one per ReportUsage call
	failSub  error
	failRpt  error
	failUsgE error
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		subs:  map[string]ports.ProviderSubscription{},
		usage: map[string]int64{},
	}
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) VerifyWebhook(payload []byte, signature string) error { return nil }

func (p *stubProvider) GetSubscription(ctx context.Context, externalID string) (ports.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSub != nil {
		return ports.ProviderSubscription{}, p.failSub
	}
	sub, ok := p.subs[externalID]
	if !ok {
		return ports.ProviderSubscription{}, errors.New("subscription not found")
	}
	return sub, nil
}

func (p *stubProvider) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRpt != nil {
		return p.failRpt
	}
	p.reports = append(p.reports, subscriptionItemID)
	p.usage[subscriptionItemID] += quantity
	return nil
}

func (p *stubProvider) GetUsage(ctx context.Context, subscriptionItemID string, start, end time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failUsgE != nil {
		return 0, p.failUsgE
	}
	return p.usage[subscriptionItemID], nil
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, accountID, variantID string) (string, error) {
	return "https://pay.example/checkout/" + variantID, nil
}

func (p *stubProvider) CreatePortalSession(ctx context.Context, externalSubscriptionID string) (string, error) {
	return "https://pay.example/portal/" + externalSubscriptionID, nil
}

func (p *stubProvider) reportCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports)
}

// stubCounters is an in-memory ports.CostCounterStore with injectable
// failure.
type stubCounters struct {
	mu   sync.Mutex
	vals map[string]int64
	fail error
}

func newStubCounters() *stubCounters {
	return &stubCounters{vals: map[string]int64{}}
}

func (c *stubCounters) IncrBy(ctx context.Context, key string, cents int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.vals[key] += cents
	return nil
}

func (c *stubCounters) GetMulti(ctx context.Context, keys ...string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = c.vals[k]
	}
	return out, nil
}

func (c *stubCounters) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

// stubExecutor returns a fixed result or error.
type stubExecutor struct {
	result ports.WorkResult
	err    error
	calls  int
}

func (e *stubExecutor) Execute(ctx context.Context, req ports.WorkRequest) (ports.WorkResult, error) {
	e.calls++
	if e.err != nil {
		return ports.WorkResult{}, e.err
	}
	return e.result, nil
}
