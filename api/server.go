/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the UI
  5. Auth:       Bearer token on /api only

ROUTE GROUPS:
  /healthz                Liveness (public)
  /api/drafts/*           Draft editing and lifecycle
  /api/dashboard/*        Dashboard lists and filters
  /api/audit              Audit log
  /api/admin/*            Admin operations

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/jwt.go: Bearer token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/deal-desk/logger"
)

// Authenticator wraps handlers that require a caller identity.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, authn Authenticator, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Middleware)

		// Draft routes
		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.OpenDraft)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDraft)
				r.Delete("/", h.CloseDraft)
				r.Get("/events", h.DraftEvents)
				r.Post("/fields", h.UpdateFields)
				r.Delete("/error", h.DismissError)

				r.Post("/fixed-costs", h.AddFixedCost)
				r.Delete("/fixed-costs/{row}", h.RemoveFixedCost)
				r.Patch("/fixed-costs/{row}", h.EditFixedCostCell)

				r.Post("/recurring-services", h.AddRecurringService)
				r.Delete("/recurring-services/{row}", h.RemoveRecurringService)
				r.Patch("/recurring-services/{row}", h.EditRecurringCell)
				r.Put("/recurring-services/{row}", h.ReplaceRecurringRow)
				r.Delete("/recurring-services/at/{row}", h.RemoveRecurringRow)

				r.Post("/submit", h.Submit)
				r.Post("/approve", h.Approve)
				r.Post("/reject", h.Reject)
				r.Post("/commission", h.CalculateCommission)
			})
		})

		// Dashboard routes
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", h.GetDashboard)
			r.Put("/filters", h.SetDashboardFilters)
		})

		r.Get("/audit", h.ListAudit)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/reaper-runs", h.ListReaperRuns)
		})
	})

	return r
}

// requestLogger attaches a logger tagged with the request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.L.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}
