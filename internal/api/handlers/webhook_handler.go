package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/api/middleware"
	"github.com/northwind-labs/checkout-service/internal/gateway"
	"github.com/northwind-labs/checkout-service/internal/repository"
	"github.com/northwind-labs/checkout-service/internal/service"
)

const maxWebhookBody = 1 << 20

// EventProcessor is implemented by the settlement service.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, env gateway.Envelope) (service.Outcome, error)
}

type WebhookHandler struct {
	settlement EventProcessor
	secret     []byte
	logger     *zap.Logger
}

func NewWebhookHandler(settlement EventProcessor, secret []byte, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{settlement: settlement, secret: secret, logger: logger}
}

// Handle ingests POST /webhooks/payment. The signature is verified
// over the raw body before anything is parsed; a tampered or unsigned
// delivery mutates nothing.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}

	sig := r.Header.Get("signature")
	if sig == "" {
		sig = r.Header.Get("x-signature")
	}
	if !gateway.VerifySignature(h.secret, body, sig) {
		middleware.RecordWebhookEvent("unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_signature"})
		return
	}

	env, err := gateway.ParseEnvelope(body)
	if err != nil {
		middleware.RecordWebhookEvent("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if env.CheckoutID == "" {
		middleware.RecordWebhookEvent("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_checkout_id"})
		return
	}

	outcome, err := h.settlement.ProcessEvent(r.Context(), env)
	if err != nil {
		if errors.Is(err, repository.ErrDraftNotFound) {
			// Non-2xx so the provider retries: the webhook may have
			// outrun the draft write.
			middleware.RecordWebhookEvent("draft_not_found")
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "draft_not_found"})
			return
		}
		h.logger.Error("webhook processing failed",
			zap.String("event_id", env.EventID),
			zap.String("checkout_id", env.CheckoutID),
			zap.Error(err))
		middleware.RecordWebhookEvent("error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	middleware.RecordWebhookEvent(string(outcome.Code))
	if outcome.Code == service.OutcomeSettled {
		middleware.RecordOrderSettled()
	}

	resp := map[string]string{"status": string(outcome.Code)}
	if outcome.OrderID != "" {
		resp["order_id"] = outcome.OrderID
	}
	writeJSON(w, http.StatusOK, resp)
}
