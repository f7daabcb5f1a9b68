package models

import "time"

// Draft payment statuses. Transitions are strictly forward:
// PENDING -> PAID or PENDING -> FAILED, never backward.
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusFailed  = "FAILED"
)

// CheckoutDraft is an in-progress checkout: the cart snapshot, the
// customer's contact details and the correlation to the external
// payment session. It is mutated only by the settlement pipeline.
type CheckoutDraft struct {
	ID                string
	Email             string
	Phone             string
	FullName          string
	Cart              CartSnapshot
	PaymentMethod     string
	CouponCode        string
	CheckoutSessionID string
	PaymentStatus     string
	OrderID           string
	IPAddress         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
