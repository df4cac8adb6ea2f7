package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/room-reservations-and-orders/internal/idempotency"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"github.com/robertarktes/room-reservations-and-orders/internal/rateLimit"
)

type RouterConfig struct {
	AdminJWTSecret     string
	RateLimitPerMinute int
	// Optional; nil disables the middleware.
	RateLimiter *rateLimit.RateLimiter
	Idempotency *idempotency.Idempotency
	History     AuditHistory
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.RateLimitPerMinute))
		}

		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Get("/v1/units/{id}/availability", h.CheckAvailability)
		r.Group(func(r chi.Router) {
			if cfg.Idempotency != nil {
				r.Use(IdempotencyMiddleware(cfg.Idempotency))
			}
			r.Post("/v1/bookings", h.CreateBooking)
		})
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(cfg.AdminJWTSecret))
			r.Post("/v1/bookings/{id}/status", h.TransitionStatus)
			r.Post("/v1/bookings/{id}/read", h.MarkRead)
			if cfg.History != nil {
				r.Get("/v1/bookings/{id}/history", h.BookingHistory(cfg.History))
			}
		})
	})

	return r
}
