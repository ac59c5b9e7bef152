package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/clock"
	"github.com/billgate/billgate/adapters/idgen"
	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

type workFixture struct {
	store    *memStore
	counters *stubCounters
	provider *stubProvider
	executor *stubExecutor
	clk      *clock.Fake
	svc      *WorkService
}

func newWorkFixture(t *testing.T) *workFixture {
	t.Helper()
	store := newMemStore()
	counters := newStubCounters()
	provider := newStubProvider()
	executor := &stubExecutor{result: ports.WorkResult{Output: "ok", CostCents: 7, Tokens: 120}}
	clk := clock.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))

	usage := newUsageService(store, clk)
	breaker := newBreakerService(counters, clk)
	reporting := newReportingService(store, provider, clk)

	svc := NewWorkService(store, usage, breaker, reporting, executor,
		idgen.NewSequential("unit-"), clk, zerolog.Nop())
	return &workFixture{
		store:    store,
		counters: counters,
		provider: provider,
		executor: executor,
		clk:      clk,
		svc:      svc,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkService_FullFlow(t *testing.T) {
	f := newWorkFixture(t)
	seedMeteredAccount(f.store)
	ctx := context.Background()

	res, err := f.svc.Do(ctx, ports.WorkRequest{AccountID: "acct-1", Mode: "chat", Input: "hi"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Output != "ok" || res.CostCents != 7 {
		t.Errorf("result = %+v", res)
	}

	acct, _ := f.store.Accounts().Get(ctx, "acct-1")
	if acct.UsageCount != 1 {
		t.Errorf("usage = %d, want 1", acct.UsageCount)
	}

	if len(f.counters.vals) != 3 {
		t.Errorf("spend tracked on %d keys, want 3", len(f.counters.vals))
	}

	if len(f.store.units) != 1 {
		t.Fatalf("units = %d, want 1", len(f.store.units))
	}

	// Reporting runs after the response, asynchronously.
	waitFor(t, func() bool { return f.provider.reportCount() == 1 })
}

func TestWorkService_QuotaDenied(t *testing.T) {
	f := newWorkFixture(t)
	ctx := context.Background()

	f.store.accounts["acct-1"] = billing.Account{
		ID:         "acct-1",
		Tier:       billing.TierTrial,
		UsageCount: 10,
	}

	_, err := f.svc.Do(ctx, ports.WorkRequest{AccountID: "acct-1", Input: "hi"})
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qe.Result.Used != 10 || qe.Result.Limit != 10 {
		t.Errorf("denial carries %+v", qe.Result)
	}
	if f.executor.calls != 0 {
		t.Error("executor ran despite quota denial")
	}
	if len(f.store.units) != 0 {
		t.Error("unit persisted despite denial")
	}
}

func TestWorkService_BudgetDenied(t *testing.T) {
	f := newWorkFixture(t)
	seedMeteredAccount(f.store)
	ctx := context.Background()

	// Exhaust the caller's daily cap.
	f.svc.breaker.Track(ctx, "acct-1", testCaps.CallerDailyCents)

	_, err := f.svc.Do(ctx, ports.WorkRequest{AccountID: "acct-1", Input: "hi"})
	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BudgetExceededError", err)
	}
	if be.Decision.Layer != "caller" {
		t.Errorf("layer = %s", be.Decision.Layer)
	}
	if f.executor.calls != 0 {
		t.Error("executor ran despite tripped breaker")
	}
}

func TestWorkService_ExecutorFailureCostsNothing(t *testing.T) {
	f := newWorkFixture(t)
	seedMeteredAccount(f.store)
	f.executor.err = errors.New("upstream timeout")
	ctx := context.Background()

	if _, err := f.svc.Do(ctx, ports.WorkRequest{AccountID: "acct-1", Input: "hi"}); err == nil {
		t.Fatal("expected executor error")
	}

	acct, _ := f.store.Accounts().Get(ctx, "acct-1")
	if acct.UsageCount != 0 {
		t.Error("failed work counted against quota")
	}
	if len(f.counters.vals) != 0 {
		t.Error("failed work tracked spend")
	}
	if len(f.store.units) != 0 {
		t.Error("failed work persisted a unit")
	}
}

func TestWorkService_UnitPersistFailureStillReturnsResult(t *testing.T) {
	f := newWorkFixture(t)
	seedMeteredAccount(f.store)
	f.store.failUnitCreate = true

	res, err := f.svc.Do(context.Background(), ports.WorkRequest{AccountID: "acct-1", Input: "hi"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Output != "ok" {
		t.Errorf("result = %+v", res)
	}
}

func TestCheckoutService_URLs(t *testing.T) {
	store := newMemStore()
	provider := newStubProvider()
	clk := clock.NewFake(time.Now())
	svc := NewCheckoutService(store, provider, clk, testPlans, zerolog.Nop())
	ctx := context.Background()

	url, err := svc.CheckoutURL(ctx, "acct-1", billing.TierSubscription)
	if err != nil {
		t.Fatalf("CheckoutURL: %v", err)
	}
	if url != "https://pay.example/checkout/222" {
		t.Errorf("url = %s", url)
	}
	if _, err := store.Accounts().Get(ctx, "acct-1"); err != nil {
		t.Error("account not provisioned before checkout")
	}

	if _, err := svc.CheckoutURL(ctx, "acct-1", billing.TierTrial); err == nil {
		t.Error("trial tier must not be purchasable")
	}

	if _, err := svc.PortalURL(ctx, "acct-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("portal without subscription: %v", err)
	}

	store.subs["sub-1"] = billing.Subscription{
		ID:         "sub-1",
		AccountID:  "acct-1",
		ExternalID: "ext-1",
		Status:     billing.SubscriptionStatusActive,
		Tier:       billing.TierSubscription,
	}
	url, err = svc.PortalURL(ctx, "acct-1")
	if err != nil {
		t.Fatalf("PortalURL: %v", err)
	}
	if url != "https://pay.example/portal/ext-1" {
		t.Errorf("url = %s", url)
	}
}
