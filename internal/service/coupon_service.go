package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/models"
)

// Coupon rejection kinds, distinguishable by the caller for
// user-facing messaging. Anything else returned by Validate is an
// infrastructure failure.
var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponNotActive   = errors.New("coupon not active")
	ErrBelowMinimum      = errors.New("subtotal below coupon minimum")
	ErrCouponExhausted   = errors.New("coupon exhausted")
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// IsCouponRejection reports whether err is one of the coupon
// validation rejections, as opposed to an infrastructure error.
func IsCouponRejection(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCouponNotActive) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrCouponExhausted) ||
		errors.Is(err, ErrUsageLimitReached)
}

// CouponStore is the read side of coupon persistence.
type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountRedemptions(ctx context.Context, couponID int64, email, ip string) (int, error)
}

// CouponCache is an optional read-through cache for coupon metadata.
// Staleness is tolerable: the usage counter's correctness comes from
// the conditional increment at the data layer, never from cached state.
type CouponCache interface {
	Get(ctx context.Context, code string) (*models.Coupon, bool)
	Set(ctx context.Context, code string, c *models.Coupon)
}

type CouponService struct {
	store  CouponStore
	cache  CouponCache
	logger *zap.Logger
	now    func() time.Time
}

func NewCouponService(store CouponStore, cache CouponCache, logger *zap.Logger) *CouponService {
	return &CouponService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// NormalizeCode trims and upper-cases a raw coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a coupon against its rules and computes the discount
// for the given subtotal. It has no side effects; redemption is the
// separate atomic increment performed by the settlement transaction.
// The subtotal must come from server-held state, never from a client.
//
// Checks run in order, first violation wins: exists and active,
// validity window, minimum subtotal, global cap, per-customer cap.
func (s *CouponService) Validate(ctx context.Context, code string, subtotal int64, email, ip string) (*models.Coupon, int64, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, 0, ErrCouponNotFound
	}

	coupon, err := s.lookup(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	if coupon == nil || !coupon.Active {
		return nil, 0, ErrCouponNotFound
	}

	now := s.now().UTC()
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return nil, 0, ErrCouponNotActive
	}
	if coupon.ValidTo != nil && now.After(*coupon.ValidTo) {
		return nil, 0, ErrCouponNotActive
	}

	if subtotal < coupon.MinSubtotal {
		return nil, 0, ErrBelowMinimum
	}

	if coupon.TotalUseCap > 0 && coupon.CurrentUses >= coupon.TotalUseCap {
		return nil, 0, ErrCouponExhausted
	}

	if coupon.PerCustomerCap > 0 && (email != "" || ip != "") {
		used, err := s.store.CountRedemptions(ctx, coupon.ID, email, ip)
		if err != nil {
			return nil, 0, err
		}
		if used >= coupon.PerCustomerCap {
			return nil, 0, ErrUsageLimitReached
		}
	}

	return coupon, ComputeDiscount(coupon, subtotal), nil
}

func (s *CouponService) lookup(ctx context.Context, code string) (*models.Coupon, error) {
	if s.cache != nil {
		if c, ok := s.cache.Get(ctx, code); ok {
			return c, nil
		}
	}

	coupon, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if coupon != nil && s.cache != nil {
		s.cache.Set(ctx, code, coupon)
	}
	return coupon, nil
}

// ComputeDiscount returns the discount in minor units. Fixed coupons
// are clamped to the subtotal so the final total is never negative;
// percentage coupons round half-up to the minor unit.
func ComputeDiscount(c *models.Coupon, subtotal int64) int64 {
	var amount int64
	switch c.DiscountType {
	case models.DiscountFixed:
		amount = c.DiscountValue.Round(0).IntPart()
	case models.DiscountPercentage:
		amount = decimal.NewFromInt(subtotal).
			Mul(c.DiscountValue).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	default:
		return 0
	}

	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}
