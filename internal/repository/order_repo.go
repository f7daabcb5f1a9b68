package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/northwind-labs/checkout-service/internal/models"
)

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// Create inserts the order and its items. The unique index on draft_id
// turns a second settlement attempt for the same draft into
// ErrOrderExists, which the pipeline treats as a successful no-op.
// rawEvent seeds the order's webhook audit trail.
func (r *OrderRepo) Create(ctx context.Context, q DBTX, o *models.Order, rawEvent []byte) error {
	if len(rawEvent) == 0 {
		rawEvent = []byte("{}")
	}

	query := `
		INSERT INTO orders
			(id, user_id, draft_id, subtotal, discount_amount, total_amount,
			 currency, payment_method, payment_status, status, coupon_id,
			 coupon_code, amount_mismatch, webhook_events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        jsonb_build_array($14::jsonb))
		RETURNING created_at
	`

	var couponID any
	if o.CouponID != 0 {
		couponID = o.CouponID
	}

	err := q.QueryRowContext(ctx, query,
		o.ID, o.UserID, o.DraftID, o.Subtotal, o.DiscountAmount,
		o.TotalAmount, o.Currency, o.PaymentMethod, o.PaymentStatus,
		o.Status, couponID, o.CouponCode, o.AmountMismatch, rawEvent,
	).Scan(&o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, variant_id, title, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if _, err := q.ExecContext(ctx, itemQuery,
			o.ID, it.ProductID, it.VariantID, it.Title, it.Quantity, it.UnitPrice,
		); err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepo) GetByDraftID(ctx context.Context, draftID string) (*models.Order, error) {
	var (
		o        models.Order
		couponID sql.NullInt64
	)

	query := `
		SELECT id, user_id, draft_id, subtotal, discount_amount, total_amount,
		       currency, payment_method, payment_status, status, coupon_id,
		       coupon_code, amount_mismatch, created_at
		FROM orders
		WHERE draft_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, draftID).Scan(
		&o.ID,
		&o.UserID,
		&o.DraftID,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.Currency,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.Status,
		&couponID,
		&o.CouponCode,
		&o.AmountMismatch,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by draft: %w", err)
	}
	o.CouponID = couponID.Int64

	itemQuery := `
		SELECT id, order_id, product_id, variant_id, title, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, itemQuery, o.ID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID,
			&it.Title, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return &o, nil
}

// AppendWebhookPayload appends a raw provider payload to the order's
// append-only audit trail.
func (r *OrderRepo) AppendWebhookPayload(ctx context.Context, draftID string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		UPDATE orders
		SET webhook_events = webhook_events || jsonb_build_array($2::jsonb)
		WHERE draft_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, draftID, payload); err != nil {
		return fmt.Errorf("append webhook payload: %w", err)
	}
	return nil
}
