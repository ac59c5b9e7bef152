package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// AccountRepo implements ports.AccountRepo using SQLite.
type AccountRepo struct {
	q dbtx
}

// Get retrieves an account by ID.
func (r *AccountRepo) Get(ctx context.Context, id string) (billing.Account, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, tier, usage_count, usage_reset_at, external_customer_id,
		       trial_started_at, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`, id)
	return scanAccount(row)
}

// GetOrCreate retrieves an account, creating a trial account on first
// contact. The insert is ignore-on-conflict so two concurrent first
// contacts both converge on the same row.
func (r *AccountRepo) GetOrCreate(ctx context.Context, id string, now time.Time) (billing.Account, error) {
	now = now.UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (id, tier, usage_count, trial_started_at, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(billing.TierTrial), now, now, now)
	if err != nil {
		return billing.Account{}, err
	}
	return r.Get(ctx, id)
}

// Update writes all mutable fields absolutely. The caller stamps
// UpdatedAt; the repo never reads the wall clock.
func (r *AccountRepo) Update(ctx context.Context, acct billing.Account) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE accounts
		SET tier = ?, usage_count = ?, usage_reset_at = ?,
		    external_customer_id = ?, updated_at = ?
		WHERE id = ?
	`,
		string(acct.Tier), acct.UsageCount, nullTimePtr(acct.UsageResetAt),
		nullString(acct.ExternalCustomerID), acct.UpdatedAt, acct.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
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

// IncrementUsage atomically bumps the usage counter and returns the new
// count.
func (r *AccountRepo) IncrementUsage(ctx context.Context, id string, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE accounts
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ?
	`, now.UTC(), id)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrNotFound
	}

	var count int64
	err = r.q.QueryRowContext(ctx, `SELECT usage_count FROM accounts WHERE id = ?`, id).Scan(&count)
	return count, err
}

func scanAccount(row *sql.Row) (billing.Account, error) {
	var acct billing.Account
	var tier string
	var usageResetAt sql.NullTime
	var externalCustomerID sql.NullString

	err := row.Scan(
		&acct.ID, &tier, &acct.UsageCount, &usageResetAt, &externalCustomerID,
		&acct.TrialStartedAt, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Account{}, ErrNotFound
	}
	if err != nil {
		return billing.Account{}, err
	}

	acct.Tier = billing.Tier(tier)
	acct.UsageResetAt = timePtr(usageResetAt)
	if externalCustomerID.Valid {
		acct.ExternalCustomerID = externalCustomerID.String
	}
	return acct, nil
}

// Ensure interface compliance.
var _ ports.AccountRepo = (*AccountRepo)(nil)
