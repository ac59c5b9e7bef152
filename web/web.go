// Package web exposes the HTTP surface: the provider webhook endpoint,
// the paid-work API, and the read-only status endpoints.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/billgate/billgate/adapters/metrics"
	"github.com/billgate/billgate/app"
	"github.com/billgate/billgate/ports"
)

// Handler provides all HTTP endpoints.
type Handler struct {
	webhooks *app.WebhookService
	work     *app.WorkService
	breaker  *app.BreakerService
	checkout *app.CheckoutService
	provider ports.PaymentProvider
	counters ports.CostCounterStore
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Webhooks *app.WebhookService
	Work     *app.WorkService
	Breaker  *app.BreakerService
	Checkout *app.CheckoutService
	Provider ports.PaymentProvider
	Counters ports.CostCounterStore
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		webhooks: deps.Webhooks,
		work:     deps.Work,
		breaker:  deps.Breaker,
		checkout: deps.Checkout,
		provider: deps.Provider,
		counters: deps.Counters,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Router builds the chi router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if h.metrics != nil {
		r.Use(newMetricsMiddleware(h.metrics))
	}

	r.Post("/webhooks/billing", h.HandleBillingWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/work", h.HandleWork)
		r.Post("/checkout", h.HandleCheckout)
		r.Get("/portal", h.HandlePortal)
	})

	r.Get("/status/breaker", h.HandleBreakerStatus)
	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
