/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For / X-Real-IP
  3. Logger:     zap access log (logger.Middleware)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request count and duration per route pattern
  6. CORS:       Cross-origin requests for the registration frontend

ROUTE GROUPS:
  /api/registrations/*    Registrations, payments, review
  /api/reports/*          Aggregate roll-ups
  /api/pricing/*          Price-list lookups
  /api/fund-requests/*    Disbursement workflow
  /api/notifications/*    Failed deliveries and resend
  /api/audit              Audit trail
  /api/scenarios/*        Demo scenarios
  /metrics                Prometheus exposition
  /healthz                Liveness

SECURITY NOTE:
  No authentication middleware. Actors arrive in X-Actor-ID / X-Actor-Role
  headers and are recorded, not verified.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rayalaseema/regengine/logger"
	"github.com/rayalaseema/regengine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument(h.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerActorID, headerActorRole},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/registrations", func(r chi.Router) {
			r.Get("/", h.ListRegistrations)
			r.Post("/", h.SubmitRegistration)
			r.Get("/{id}", h.GetRegistration)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Post("/{id}/review", h.ReviewRegistration)
		})

		r.Get("/reports/aggregate", h.AggregateReport)
		r.Get("/pricing/quote", h.QuotePrice)

		r.Route("/fund-requests", func(r chi.Router) {
			r.Get("/", h.ListFundRequests)
			r.Post("/", h.SubmitFundRequest)
			r.Get("/{id}", h.GetFundRequest)
			r.Post("/{id}/approve", h.ApproveFundRequest)
			r.Post("/{id}/reject", h.RejectFundRequest)
			r.Post("/{id}/pay", h.PayFundRequest)
			r.Post("/{id}/confirm", h.ConfirmFundRequest)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/failures", h.ListFailures)
			r.Delete("/failures/{id}", h.ClearFailure)
			r.Post("/resend", h.ResendFailures)
		})

		r.Get("/audit", h.ListAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Handle("/metrics", h.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// instrument records every request under its route pattern, so
// /api/registrations/{id} is one series regardless of the ID.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}
