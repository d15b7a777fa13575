/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontends
  6. Auth:       Bearer JWT on everything under /api

ROUTE GROUPS:
  /healthz              Liveness (public)
  /api/employees/*      Profiles, entitlements, history, approver lookup
  /api/requests/*       Request lifecycle
  /api/leave-types/*    Catalog
  /api/delegations/*    Delegation registry
  /api/holidays         Holiday calendar
  /api/block-periods    Block periods
  /api/admin/*          Ledger operations (hr_admin)
  /api/scenarios/*      Demo data (hr_admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification and the hr_admin gate
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/employees", func(r chi.Router) {
			r.With(RequireAdmin).Get("/", h.ListEmployees)
			r.With(RequireAdmin).Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/entitlements", h.GetEntitlements)
			r.Get("/{id}/entitlements/{leaveTypeID}/history", h.GetHistory)
			r.Get("/{id}/approvers/{role}", h.ResolveApprover)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/inbox", h.Inbox)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.With(RequireAdmin).Post("/", h.SaveLeaveType)
			r.Get("/{id}", h.GetLeaveType)
		})

		r.Route("/delegations", func(r chi.Router) {
			r.Post("/", h.SetDelegation)
			r.Get("/active", h.ListActiveDelegations)
			r.Delete("/{id}", h.RevokeDelegation)
		})

		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.With(RequireAdmin).Post("/", h.CreateHoliday)
		})

		r.Route("/block-periods", func(r chi.Router) {
			r.Get("/", h.ListBlockPeriods)
			r.With(RequireAdmin).Post("/", h.CreateBlockPeriod)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/accrue", h.Accrue)
			r.Post("/carry-forward", h.CarryForward)
			r.Post("/grant", h.Grant)
			r.Post("/adjust", h.Adjust)
			r.Post("/scheduler/run", h.RunScheduler)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
