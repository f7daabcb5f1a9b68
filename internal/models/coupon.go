package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon discount types.
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Coupon holds a promo code's rules and its usage accounting. For
// percentage coupons DiscountValue is the percentage (e.g. 10 for 10%),
// for fixed coupons it is an amount in minor units. CurrentUses is
// mutated only by the settlement pipeline's atomic increment.
type Coupon struct {
	ID             int64
	Code           string
	Active         bool
	DiscountType   string
	DiscountValue  decimal.Decimal
	MinSubtotal    int64
	ValidFrom      *time.Time
	ValidTo        *time.Time
	TotalUseCap    int
	PerCustomerCap int
	CurrentUses    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
