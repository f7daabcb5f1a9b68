package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/api/handlers"
	"github.com/northwind-labs/checkout-service/internal/api/middleware"
)

// NewRouter builds the HTTP router for the checkout service.
func NewRouter(checkoutH *handlers.CheckoutHandler, webhookH *handlers.WebhookHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics)

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/", checkoutH.Begin)
		r.Get("/status/{draftID}", checkoutH.Status)
	})

	r.Post("/coupons/validate", checkoutH.ValidateCoupon)
	r.Post("/webhooks/payment", webhookH.Handle)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", middleware.PrometheusHandler())

	return r
}
