package sqlite

import (
	"context"
	"time"

	"github.com/billgate/billgate/ports"
)

// EventLedger implements ports.EventLedger using SQLite. The table is
// append-only; rows are never updated or deleted.
type EventLedger struct {
	q dbtx
}

// RecordIfNew inserts the event key, relying on the primary key to
// reject duplicates. This is a single insert-or-fail, not a
// check-then-act, so two concurrent deliveries of the same event cannot
// both observe "new".
func (l *EventLedger) RecordIfNew(ctx context.Context, key string, payload []byte, at time.Time) (bool, error) {
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO processed_events (key, payload, processed_at)
		VALUES (?, ?, ?)
	`, key, payload, at.UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ensure interface compliance.
var _ ports.EventLedger = (*EventLedger)(nil)
