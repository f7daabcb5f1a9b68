package db

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the settlement tables if they do not exist. The
// unique index on orders.draft_id and the webhook_events primary key
// are what make order creation and event deduplication idempotent at
// the data layer; application-level checks are only fast paths.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkout_drafts (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			cart JSONB NOT NULL,
			subtotal BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			coupon_code TEXT NOT NULL DEFAULT '',
			checkout_session_id TEXT NOT NULL DEFAULT '',
			payment_status TEXT NOT NULL DEFAULT 'PENDING',
			order_id UUID,
			ip_address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_checkout_session
			ON checkout_drafts (checkout_session_id)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id BIGSERIAL PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			discount_type TEXT NOT NULL,
			discount_value NUMERIC(12,4) NOT NULL,
			min_subtotal BIGINT NOT NULL DEFAULT 0,
			valid_from TIMESTAMPTZ,
			valid_to TIMESTAMPTZ,
			total_use_cap INT NOT NULL DEFAULT 0,
			per_customer_cap INT NOT NULL DEFAULT 0,
			current_uses INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			draft_id UUID NOT NULL UNIQUE REFERENCES checkout_drafts (id),
			subtotal BIGINT NOT NULL,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			coupon_id BIGINT,
			coupon_code TEXT NOT NULL DEFAULT '',
			amount_mismatch BOOLEAN NOT NULL DEFAULT FALSE,
			webhook_events JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id BIGSERIAL PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders (id),
			product_id TEXT NOT NULL,
			variant_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_redemptions (
			id BIGSERIAL PRIMARY KEY,
			coupon_id BIGINT NOT NULL REFERENCES coupons (id),
			email TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			order_id UUID NOT NULL,
			redeemed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
