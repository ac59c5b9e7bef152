package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// SubscriptionRepo implements ports.SubscriptionRepo using SQLite.
type SubscriptionRepo struct {
	q dbtx
}

const subscriptionColumns = `id, account_id, external_id, external_item_id, status, tier,
	       renews_at, ends_at, billing_anchor_day, created_at, updated_at`

// GetByExternalID retrieves a subscription by provider id.
func (r *SubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (billing.Subscription, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_id = ?
	`, externalID)
	return scanSubscription(row)
}

// GetByAccount retrieves the most recent subscription for an account.
func (r *SubscriptionRepo) GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
	return scanSubscription(row)
}

// GetActiveByAccount retrieves the active subscription for an account.
func (r *SubscriptionRepo) GetActiveByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = ? AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
	return scanSubscription(row)
}

// Create stores a new subscription with the timestamps the caller set.
// The unique constraint on external_id is the arbiter when two
// deliveries race.
func (r *SubscriptionRepo) Create(ctx context.Context, sub billing.Subscription) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, account_id, external_id, external_item_id, status, tier,
			renews_at, ends_at, billing_anchor_day, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.AccountID, sub.ExternalID, nullString(sub.ExternalItemID),
		string(sub.Status), string(sub.Tier),
		nullTimePtr(sub.RenewsAt), nullTimePtr(sub.EndsAt),
		sub.BillingAnchorDay, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Update modifies a subscription, writing the caller's UpdatedAt.
func (r *SubscriptionRepo) Update(ctx context.Context, sub billing.Subscription) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE subscriptions
		SET external_item_id = ?, status = ?, tier = ?,
		    renews_at = ?, ends_at = ?, billing_anchor_day = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(sub.ExternalItemID), string(sub.Status), string(sub.Tier),
		nullTimePtr(sub.RenewsAt), nullTimePtr(sub.EndsAt),
		sub.BillingAnchorDay, sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRenewsAtByExternalID advances the renewal date addressed by
// provider id. Affecting zero rows is not an error; the caller already
// treats this as best effort.
func (r *SubscriptionRepo) UpdateRenewsAtByExternalID(ctx context.Context, externalID string, renewsAt time.Time, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE subscriptions
		SET renews_at = ?, updated_at = ?
		WHERE external_id = ?
	`, renewsAt.UTC(), now.UTC(), externalID)
	return err
}

// ListActive returns all active subscriptions.
func (r *SubscriptionRepo) ListActive(ctx context.Context) ([]billing.Subscription, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []billing.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row *sql.Row) (billing.Subscription, error) {
	sub, err := scanSubscriptionFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, ErrNotFound
	}
	return sub, err
}

func scanSubscriptionRows(rows *sql.Rows) (billing.Subscription, error) {
	return scanSubscriptionFrom(rows.Scan)
}

func scanSubscriptionFrom(scan func(...interface{}) error) (billing.Subscription, error) {
	var sub billing.Subscription
	var status, tier string
	var itemID sql.NullString
	var renewsAt, endsAt sql.NullTime

	err := scan(
		&sub.ID, &sub.AccountID, &sub.ExternalID, &itemID, &status, &tier,
		&renewsAt, &endsAt, &sub.BillingAnchorDay, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return billing.Subscription{}, err
	}

	sub.Status = billing.SubscriptionStatus(status)
	sub.Tier = billing.Tier(tier)
	if itemID.Valid {
		sub.ExternalItemID = itemID.String
	}
	sub.RenewsAt = timePtr(renewsAt)
	sub.EndsAt = timePtr(endsAt)
	return sub, nil
}

// Ensure interface compliance.
var _ ports.SubscriptionRepo = (*SubscriptionRepo)(nil)
