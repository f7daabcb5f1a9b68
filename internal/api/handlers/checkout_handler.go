package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/models"
	"github.com/northwind-labs/checkout-service/internal/repository"
	"github.com/northwind-labs/checkout-service/internal/service"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
	logger   *zap.Logger
}

func NewCheckoutHandler(checkout *service.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// couponRejectionCode maps each coupon rejection kind to the message
// the storefront shows the customer.
func couponRejectionCode(err error) string {
	switch {
	case errors.Is(err, service.ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, service.ErrCouponNotActive):
		return "coupon_not_active"
	case errors.Is(err, service.ErrBelowMinimum):
		return "min_subtotal_not_met"
	case errors.Is(err, service.ErrCouponExhausted):
		return "coupon_exhausted"
	case errors.Is(err, service.ErrUsageLimitReached):
		return "usage_limit_reached"
	default:
		return "invalid_coupon"
	}
}

// Begin handles POST /checkout.
func (h *CheckoutHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req service.BeginCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	req.IPAddress = clientIP(r)

	result, err := h.checkout.Begin(r.Context(), req)
	if err != nil {
		if service.IsCouponRejection(err) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": couponRejectionCode(err),
			})
			return
		}
		if errors.Is(err, service.ErrEmptyCart) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty_cart"})
			return
		}
		h.logger.Error("begin checkout failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Status handles GET /checkout/status/{draftID}.
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	draftID := chi.URLParam(r, "draftID")

	status, err := h.checkout.Status(r.Context(), draftID)
	if err != nil {
		if errors.Is(err, repository.ErrDraftNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "draft_not_found"})
			return
		}
		h.logger.Error("draft status lookup failed",
			zap.String("draft_id", draftID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ValidateCoupon handles POST /coupons/validate, the storefront's
// pre-payment check.
func (h *CheckoutHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}

	resp, err := h.checkout.ValidateCoupon(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrCouponNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "coupon_not_found"})
			return
		}
		if service.IsCouponRejection(err) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": couponRejectionCode(err),
			})
			return
		}
		h.logger.Error("coupon validation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
