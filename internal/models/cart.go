package models

// CartItem is one line of a draft's cart snapshot. UnitPrice is in the
// currency's minor unit (cents).
type CartItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CartSnapshot is the cart as captured at draft creation. Subtotal is
// computed server-side from the items and is the only trusted
// pre-discount amount for the rest of the pipeline.
type CartSnapshot struct {
	Items    []CartItem `json:"items"`
	Subtotal int64      `json:"subtotal"`
	Currency string     `json:"currency"`
}

// ComputeSubtotal sums quantity * unit price over the items.
func (c CartSnapshot) ComputeSubtotal() int64 {
	var total int64
	for _, it := range c.Items {
		total += int64(it.Quantity) * it.UnitPrice
	}
	return total
}
