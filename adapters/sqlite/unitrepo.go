package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/ports"
)

// UsageUnitRepo implements ports.UsageUnitRepo using SQLite.
type UsageUnitRepo struct {
	q dbtx
}

// Create stores a new usage unit with the caller's CreatedAt.
func (r *UsageUnitRepo) Create(ctx context.Context, unit billing.UsageUnit) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO usage_units (id, account_id, cost_cents, tokens, usage_reported, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, unit.ID, unit.AccountID, unit.CostCents, unit.Tokens, boolToInt(unit.UsageReported), unit.CreatedAt)
	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Get retrieves a usage unit by ID.
func (r *UsageUnitRepo) Get(ctx context.Context, id string) (billing.UsageUnit, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, cost_cents, tokens, usage_reported, created_at
		FROM usage_units
		WHERE id = ?
	`, id)

	var unit billing.UsageUnit
	var reported int
	err := row.Scan(&unit.ID, &unit.AccountID, &unit.CostCents, &unit.Tokens, &reported, &unit.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.UsageUnit{}, ErrNotFound
	}
	if err != nil {
		return billing.UsageUnit{}, err
	}
	unit.UsageReported = reported == 1
	return unit, nil
}

// MarkReported flips usage_reported false -> true. Re-marking an
// already reported unit is a no-op, not an error.
func (r *UsageUnitRepo) MarkReported(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE usage_units
		SET usage_reported = 1
		WHERE id = ?
	`, id)
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

// CountForAccount returns units recorded in [start, end) for an account.
func (r *UsageUnitRepo) CountForAccount(ctx context.Context, accountID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM usage_units
		WHERE account_id = ? AND created_at >= ? AND created_at < ?
	`, accountID, start.UTC(), end.UTC()).Scan(&count)
	return count, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure interface compliance.
var _ ports.UsageUnitRepo = (*UsageUnitRepo)(nil)
