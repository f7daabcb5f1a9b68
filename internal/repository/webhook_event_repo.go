package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// WebhookEventRepo is the durable dedup record for provider events. A
// process-local set would not survive restarts or multiple instances,
// so deduplication is a property of the table's primary key instead.
type WebhookEventRepo struct {
	db *sql.DB
}

func NewWebhookEventRepo(db *sql.DB) *WebhookEventRepo {
	return &WebhookEventRepo{db: db}
}

// MarkProcessed records an event id, returning ErrEventSeen if it was
// already recorded. Run inside the settlement transaction so that a
// crash before commit leaves the id unclaimed and redelivery can
// safely reprocess.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, q DBTX, eventID string) error {
	query := `INSERT INTO webhook_events (event_id) VALUES ($1)`

	if _, err := q.ExecContext(ctx, query, eventID); err != nil {
		if isUniqueViolation(err) {
			return ErrEventSeen
		}
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// Seen is the non-locking fast path used before any processing starts.
func (r *WebhookEventRepo) Seen(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`

	var seen bool
	if err := r.db.QueryRowContext(ctx, query, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("check event seen: %w", err)
	}
	return seen, nil
}
