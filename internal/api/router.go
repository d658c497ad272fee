package api

import (
	"log/slog"
	"net/http"

	"github.com/hdevtech/ticket/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	JWTSecret []byte
	Issuer    string
	// Idempotency is optional; without it purchases are not deduplicated.
	Idempotency middleware.IdempotencyStore
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)
	r.Use(ChiMiddleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	purchase := r.With(middleware.Authenticate(cfg.JWTSecret, cfg.Issuer))
	if cfg.Idempotency != nil {
		purchase = purchase.With(middleware.Idempotency(cfg.Idempotency))
	}
	purchase.Post("/tickets", h.PurchaseTicket)

	r.Route("/settlements/{tx_ref}", func(r chi.Router) {
		r.Get("/", h.GetSettlement)
		r.Get("/ws", h.WatchSettlement)

		// starting or stopping polls needs a session
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(cfg.JWTSecret, cfg.Issuer))
			r.Post("/", h.StartSettlement)
			r.Delete("/", h.CancelSettlement)
			r.Post("/sync", h.SettleSync)
		})
	})

	r.Get("/receipt/{tx_ref}/view", h.GetReceipt)

	r.Handle("/metrics", promhttp.Handler())

	slog.Info("registered routes", "routes", []string{
		"POST /tickets", "GET|POST|DELETE /settlements/{tx_ref}", "POST /settlements/{tx_ref}/sync",
		"GET /settlements/{tx_ref}/ws", "GET /receipt/{tx_ref}/view", "GET /metrics",
	})

	return r
}
