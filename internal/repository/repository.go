package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need, so
// transactional methods can run inside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	// ErrDraftNotFound is returned when no draft matches the lookup.
	ErrDraftNotFound = errors.New("checkout draft not found")
	// ErrOrderExists is returned when the draft already has an order;
	// the unique index on orders.draft_id enforces at-most-once
	// settlement regardless of process-level checks.
	ErrOrderExists = errors.New("order already exists for draft")
	// ErrEventSeen is returned when a webhook event id was already
	// recorded.
	ErrEventSeen = errors.New("webhook event already processed")
	// ErrCouponExhausted is returned when a conditional usage increment
	// matches no row because the cap is reached.
	ErrCouponExhausted = errors.New("coupon usage cap reached")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
