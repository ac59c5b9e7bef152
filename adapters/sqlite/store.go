package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/billgate/billgate/ports"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same repository
// code serves plain reads and transactional unit-of-work scopes.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements ports.DataStore over SQLite. Outside a transaction
// its repositories operate on the base connection; InTx rebinds them to
// a single *sql.Tx so an event's ledger insert and state mutation
// commit or roll back together.
type Store struct {
	db *DB
}

// NewStore creates a new store over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Accounts returns the account repository on the base connection.
func (s *Store) Accounts() ports.AccountRepo { return &AccountRepo{q: s.db.DB} }

// Subscriptions returns the subscription repository on the base connection.
func (s *Store) Subscriptions() ports.SubscriptionRepo { return &SubscriptionRepo{q: s.db.DB} }

// Events returns the idempotency ledger on the base connection.
func (s *Store) Events() ports.EventLedger { return &EventLedger{q: s.db.DB} }

// Units returns the usage-unit repository on the base connection.
func (s *Store) Units() ports.UsageUnitRepo { return &UsageUnitRepo{q: s.db.DB} }

// InTx runs fn inside one transaction. Any error from fn rolls the
// whole scope back; nothing is half applied.
func (s *Store) InTx(ctx context.Context, fn func(ports.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&txUnit{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txUnit is the transaction-scoped unit of work handed to handlers.
type txUnit struct {
	tx *sql.Tx
}

func (u *txUnit) Accounts() ports.AccountRepo           { return &AccountRepo{q: u.tx} }
func (u *txUnit) Subscriptions() ports.SubscriptionRepo { return &SubscriptionRepo{q: u.tx} }
func (u *txUnit) Events() ports.EventLedger             { return &EventLedger{q: u.tx} }
func (u *txUnit) Units() ports.UsageUnitRepo            { return &UsageUnitRepo{q: u.tx} }

// Ensure interface compliance.
var _ ports.DataStore = (*Store)(nil)
