package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func TestAccountGetOrCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	acct, err := store.Accounts().GetOrCreate(ctx, "acct-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Tier != billing.TierTrial {
		t.Errorf("tier = %s, want trial", acct.Tier)
	}
	if acct.UsageCount != 0 {
		t.Errorf("usage = %d, want 0", acct.UsageCount)
	}

	// Second call finds the same row.
	again, err := store.Accounts().GetOrCreate(ctx, "acct-1", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !again.TrialStartedAt.Equal(acct.TrialStartedAt) {
		t.Error("second GetOrCreate must not recreate the account")
	}
}

func TestAccountIncrementUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	if _, err := store.Accounts().GetOrCreate(ctx, "acct-1", now); err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := store.Accounts().IncrementUsage(ctx, "acct-1", now.Add(time.Duration(want)*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// The last caller-supplied timestamp is what lands in the row.
	got, err := store.Accounts().Get(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(now.Add(3 * time.Minute)) {
		t.Errorf("updatedAt = %v, want %v", got.UpdatedAt, now.Add(3*time.Minute))
	}

	if _, err := store.Accounts().IncrementUsage(ctx, "nope", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAccountUpdateFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.Accounts().GetOrCreate(ctx, "acct-1", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}

	resetAt := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	acct.Tier = billing.TierSubscription
	acct.UsageCount = 0
	acct.UsageResetAt = &resetAt
	acct.ExternalCustomerID = "55001"
	if err := store.Accounts().Update(ctx, acct); err != nil {
		t.Fatal(err)
	}

	got, err := store.Accounts().Get(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != billing.TierSubscription {
		t.Errorf("tier = %s", got.Tier)
	}
	if got.UsageResetAt == nil || !got.UsageResetAt.Equal(resetAt) {
		t.Errorf("usageResetAt = %v, want %v", got.UsageResetAt, resetAt)
	}
	if got.ExternalCustomerID != "55001" {
		t.Errorf("externalCustomerID = %s", got.ExternalCustomerID)
	}
}

func TestSubscriptionUniqueExternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Accounts().GetOrCreate(ctx, "acct-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	sub := billing.Subscription{
		ID:         "sub-1",
		AccountID:  "acct-1",
		ExternalID: "900001",
		Status:     billing.SubscriptionStatusActive,
		Tier:       billing.TierSubscription,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	sub.ID = "sub-2"
	if err := store.Subscriptions().Create(ctx, sub); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestSubscriptionKeepsCallerTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Accounts().GetOrCreate(ctx, "acct-1", created); err != nil {
		t.Fatal(err)
	}
	sub := billing.Subscription{
		ID:         "sub-1",
		AccountID:  "acct-1",
		ExternalID: "900001",
		Status:     billing.SubscriptionStatusActive,
		Tier:       billing.TierSubscription,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := store.Subscriptions().Create(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// The repo writes the timestamps it is given, not the wall clock.
	updated := created.Add(48 * time.Hour)
	sub.Status = billing.SubscriptionStatusPastDue
	sub.UpdatedAt = updated
	if err := store.Subscriptions().Update(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := store.Subscriptions().GetByExternalID(ctx, "900001")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Errorf("updatedAt = %v, want %v", got.UpdatedAt, updated)
	}
}

func TestEventLedgerRecordIfNew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	isNew, err := store.Events().RecordIfNew(ctx, "subscription_created:900001", []byte(`{}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("first record must be new")
	}

	isNew, err = store.Events().RecordIfNew(ctx, "subscription_created:900001", []byte(`{}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Fatal("second record must be a duplicate")
	}
}

func TestInTxRollsBackTogether(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(uow ports.UnitOfWork) error {
		if _, err := uow.Events().RecordIfNew(ctx, "k1", []byte(`{}`), now); err != nil {
			return err
		}
		if _, err := uow.Accounts().GetOrCreate(ctx, "acct-1", now); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	// Nothing from the aborted scope is visible.
	if _, err := store.Accounts().Get(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("account err = %v, want ErrNotFound", err)
	}
	isNew, err := store.Events().RecordIfNew(ctx, "k1", []byte(`{}`), now)
	if err != nil || !isNew {
		t.Errorf("ledger entry leaked from rolled-back tx (isNew=%v, err=%v)", isNew, err)
	}
}

func TestUsageUnitMarkReported(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Accounts().GetOrCreate(ctx, "acct-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	unit := billing.UsageUnit{ID: "unit-1", AccountID: "acct-1", CostCents: 12, Tokens: 340, CreatedAt: time.Now().UTC()}
	if err := store.Units().Create(ctx, unit); err != nil {
		t.Fatal(err)
	}

	if err := store.Units().MarkReported(ctx, "unit-1"); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := store.Units().MarkReported(ctx, "unit-1"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Units().Get(ctx, "unit-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UsageReported {
		t.Error("unit not marked reported")
	}
}

func TestCountForAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := store.Accounts().GetOrCreate(ctx, "acct-1", base); err != nil {
		t.Fatal(err)
	}
	for i, at := range []time.Time{base, base.AddDate(0, 0, 10), base.AddDate(0, 1, 5)} {
		unit := billing.UsageUnit{ID: "u" + string(rune('0'+i)), AccountID: "acct-1", CreatedAt: at}
		if err := store.Units().Create(ctx, unit); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.Units().CountForAccount(ctx, "acct-1", base, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
