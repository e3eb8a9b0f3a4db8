package http

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/stay-reservations/internal/idempotency"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/rateLimit"
)

type RouterDeps struct {
	Logger      observability.Logger
	JWTKey      *rsa.PublicKey
	RateLimiter *rateLimit.RateLimiter
	Limits      rateLimit.Limits
	Idempotency *idempotency.Idempotency
}

func actorScope(r *http.Request) string {
	if a, ok := ActorFrom(r.Context()); ok {
		return a.ID.String()
	}
	return ""
}

func SetupRouter(h *Handlers, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggerMiddleware(deps.Logger))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(deps.JWTKey))
		// re-derive the request logger now that the actor is known
		r.Use(LoggerMiddleware(deps.Logger))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware(deps.Limits, actorScope))
		}
		if deps.Idempotency != nil {
			r.Use(deps.Idempotency.Middleware(actorScope))
		}

		r.Post("/v1/bookings/intents", h.CreateIntent)
		r.Post("/v1/bookings/confirm", h.Confirm)
		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Patch("/v1/bookings/{id}/status", h.UpdateStatus)
		r.Post("/v1/bookings/{id}/check-in", h.CheckIn)
		r.Post("/v1/bookings/{id}/check-out", h.CheckOut)
		r.Post("/v1/bookings/{id}/cancel", h.Cancel)

		r.Get("/v1/places/{id}/quote", h.Quote)
		r.Get("/v1/places/{id}/availability", h.Availability)
	})

	return r
}
