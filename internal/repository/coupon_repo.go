package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/northwind-labs/checkout-service/internal/models"
)

type CouponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) *CouponRepo {
	return &CouponRepo{db: db}
}

// GetByCode loads a coupon by its case-normalized code. Returns
// (nil, nil) when no such coupon exists.
func (r *CouponRepo) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon

	query := `
		SELECT id, code, active, discount_type, discount_value, min_subtotal,
		       valid_from, valid_to, total_use_cap, per_customer_cap,
		       current_uses, created_at, updated_at
		FROM coupons
		WHERE code = $1
	`

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.ID,
		&c.Code,
		&c.Active,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MinSubtotal,
		&c.ValidFrom,
		&c.ValidTo,
		&c.TotalUseCap,
		&c.PerCustomerCap,
		&c.CurrentUses,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon %q: %w", code, err)
	}
	return &c, nil
}

// CountRedemptions counts prior redemptions of a coupon by the same
// email or IP address, for the per-customer cap check.
func (r *CouponRepo) CountRedemptions(ctx context.Context, couponID int64, email, ip string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM coupon_redemptions
		WHERE coupon_id = $1
		  AND ((email <> '' AND email = $2) OR (ip_address <> '' AND ip_address = $3))
	`

	var n int
	if err := r.db.QueryRowContext(ctx, query, couponID, email, ip).Scan(&n); err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// IncrementUsage bumps current_uses by one in a single conditional
// statement. The cap guard lives in the WHERE clause so concurrent
// redemptions can never push the counter past total_use_cap; a zero
// cap means unlimited. Returns ErrCouponExhausted when no row matched.
func (r *CouponRepo) IncrementUsage(ctx context.Context, q DBTX, couponID int64) error {
	query := `
		UPDATE coupons
		SET current_uses = current_uses + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (total_use_cap = 0 OR current_uses < total_use_cap)
	`

	res, err := q.ExecContext(ctx, query, couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if affected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

// RecordRedemption writes the per-customer usage row tied to a settled
// order. Runs inside the settlement transaction.
func (r *CouponRepo) RecordRedemption(ctx context.Context, q DBTX, couponID int64, email, ip, orderID string) error {
	query := `
		INSERT INTO coupon_redemptions (coupon_id, email, ip_address, order_id)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := q.ExecContext(ctx, query, couponID, email, ip, orderID); err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}
	return nil
}
