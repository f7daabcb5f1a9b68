package models

// ValidateCouponRequest is the storefront's pre-payment coupon check.
// Subtotal here is advisory only; settlement re-derives the discount
// from the draft's stored subtotal.
type ValidateCouponRequest struct {
	Code         string `json:"code"`
	Subtotal     int64  `json:"subtotal"`
	Email        string `json:"email,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// ValidateCouponResponse carries the computed discount for a valid code.
type ValidateCouponResponse struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
}
