package models

import "time"

// Fulfillment lifecycle status of a settled order. Fulfillment itself
// happens elsewhere; settlement always creates orders as pending.
const OrderStatusPending = "pending"

// Order is the durable record of a settled purchase. At most one order
// exists per draft; items are immutable once created.
type Order struct {
	ID             string
	UserID         string
	DraftID        string
	Subtotal       int64
	DiscountAmount int64
	TotalAmount    int64
	Currency       string
	PaymentMethod  string
	PaymentStatus  string
	Status         string
	CouponID       int64
	CouponCode     string
	AmountMismatch bool
	Items          []OrderItem
	CreatedAt      time.Time
}

// OrderItem is one settled line, copied from the draft's cart snapshot.
type OrderItem struct {
	ID        int64
	OrderID   string
	ProductID string
	VariantID string
	Title     string
	Quantity  int
	UnitPrice int64
}

// OrderNotification is the payload handed to the notification
// dispatcher after an order settles. Delivery is best-effort.
type OrderNotification struct {
	OrderID        string     `json:"order_id"`
	Status         string     `json:"status"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	FullName       string     `json:"full_name,omitempty"`
	Items          []CartItem `json:"items"`
	Subtotal       int64      `json:"subtotal"`
	DiscountAmount int64      `json:"discount_amount,omitempty"`
	CouponCode     string     `json:"coupon_code,omitempty"`
	TotalAmount    int64      `json:"total_amount"`
	Currency       string     `json:"currency"`
	Notes          string     `json:"notes,omitempty"`
}
