package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalized payment statuses reported by the provider.
const (
	EventPaid    = "paid"
	EventFailed  = "failed"
	EventPending = "pending"
	EventUnknown = "unknown"
)

// Envelope is the one ingestion schema for inbound webhook payloads.
// Field locations vary across provider versions, so the ordered
// fallbacks live here and nowhere else.
type Envelope struct {
	EventID    string
	CheckoutID string
	Status     string
	Raw        json.RawMessage
}

type rawEvent struct {
	ID         string        `json:"id"`
	EventID    string        `json:"event_id"`
	CheckoutID string        `json:"checkout_id"`
	Status     string        `json:"status"`
	Data       *rawEventData `json:"data"`
}

type rawEventData struct {
	ID         string `json:"id"`
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
}

// ParseEnvelope validates a webhook body once at the boundary. The
// event id falls back to the checkout id so deliveries without their
// own id still deduplicate per checkout.
func ParseEnvelope(body []byte) (Envelope, error) {
	var ev rawEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Envelope{}, fmt.Errorf("parse webhook body: %w", err)
	}

	env := Envelope{Raw: json.RawMessage(body)}

	env.CheckoutID = firstNonEmpty(
		dataField(ev.Data, func(d *rawEventData) string { return d.ID }),
		ev.CheckoutID,
		dataField(ev.Data, func(d *rawEventData) string { return d.CheckoutID }),
		ev.ID,
	)

	env.EventID = firstNonEmpty(ev.ID, ev.EventID, env.CheckoutID)

	env.Status = normalizeStatus(firstNonEmpty(
		ev.Status,
		dataField(ev.Data, func(d *rawEventData) string { return d.Status }),
	))

	return env, nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "completed":
		return EventPaid
	case "failed", "cancelled", "canceled":
		return EventFailed
	case "pending":
		return EventPending
	default:
		return EventUnknown
	}
}

func dataField(d *rawEventData, get func(*rawEventData) string) string {
	if d == nil {
		return ""
	}
	return get(d)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
