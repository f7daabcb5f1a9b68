package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/northwind-labs/checkout-service/internal/models"
)

type DraftRepo struct {
	db *sql.DB
}

func NewDraftRepo(db *sql.DB) *DraftRepo {
	return &DraftRepo{db: db}
}

func (r *DraftRepo) Create(ctx context.Context, d *models.CheckoutDraft) error {
	cart, err := json.Marshal(d.Cart)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	query := `
		INSERT INTO checkout_drafts
			(id, email, phone, full_name, cart, subtotal, currency,
			 payment_method, coupon_code, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING payment_status, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		d.ID, d.Email, d.Phone, d.FullName, cart, d.Cart.Subtotal,
		d.Cart.Currency, d.PaymentMethod, d.CouponCode, d.IPAddress,
	).Scan(&d.PaymentStatus, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

func (r *DraftRepo) GetByID(ctx context.Context, id string) (*models.CheckoutDraft, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *DraftRepo) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*models.CheckoutDraft, error) {
	return r.get(ctx, `WHERE checkout_session_id = $1`, sessionID)
}

func (r *DraftRepo) get(ctx context.Context, where string, arg any) (*models.CheckoutDraft, error) {
	var (
		d       models.CheckoutDraft
		cart    []byte
		orderID sql.NullString
	)

	query := `
		SELECT id, email, phone, full_name, cart, currency, payment_method,
		       coupon_code, checkout_session_id, payment_status, order_id,
		       ip_address, created_at, updated_at
		FROM checkout_drafts ` + where

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&d.ID,
		&d.Email,
		&d.Phone,
		&d.FullName,
		&cart,
		&d.Cart.Currency,
		&d.PaymentMethod,
		&d.CouponCode,
		&d.CheckoutSessionID,
		&d.PaymentStatus,
		&orderID,
		&d.IPAddress,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("get draft: %w", err)
	}

	currency := d.Cart.Currency
	if err := json.Unmarshal(cart, &d.Cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	if d.Cart.Currency == "" {
		d.Cart.Currency = currency
	}
	d.OrderID = orderID.String
	return &d, nil
}

// SetCheckoutSession links the draft to the provider's checkout session
// after the gateway call succeeds.
func (r *DraftRepo) SetCheckoutSession(ctx context.Context, draftID, sessionID string) error {
	query := `
		UPDATE checkout_drafts
		SET checkout_session_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, draftID, sessionID); err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}
	return nil
}

// MarkStatus advances the draft's payment status and optionally links
// the settled order. Transitions are forward-only: terminal statuses
// are only reachable from PENDING, so a stale FAILED event for an
// already-PAID draft is a no-op rather than an error. Repeating the
// current status is likewise a no-op.
func (r *DraftRepo) MarkStatus(ctx context.Context, q DBTX, draftID, status, orderID string) error {
	query := `
		UPDATE checkout_drafts
		SET payment_status = $2,
		    order_id = COALESCE(NULLIF($3, '')::uuid, order_id),
		    updated_at = NOW()
		WHERE id = $1
		  AND (payment_status = 'PENDING' OR payment_status = $2)
	`

	if _, err := q.ExecContext(ctx, query, draftID, status, orderID); err != nil {
		return fmt.Errorf("mark draft status: %w", err)
	}
	return nil
}
