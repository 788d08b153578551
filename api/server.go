/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*     Register and login (public)
  /api/settings   Branding and limits (public)
  /api/me/*       Participant operations (bearer token)
  /api/admin/*    Moderation and sample data (bearer token, admin role)
  /metrics        Prometheus scrape endpoint
  /healthz        Liveness and database check

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate and RequireAdmin middleware
  - cmd/taskledger/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tunes NewRouter. The zero value is usable.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", opts.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Refresh)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})
		r.Get("/settings", h.GetPublicSettings)

		// Participant routes
		r.Route("/me", func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Get("/", h.GetMe)
			r.Put("/password", h.ChangeMyPassword)
			r.Get("/tasks", h.ListMyTasks)
			r.Get("/completions", h.ListMyCompletions)
			r.Get("/entries", h.ListMyEntries)

			r.Route("/session", func(r chi.Router) {
				r.Post("/", h.StartSession)
				r.Get("/", h.GetSession)
				r.Delete("/", h.CancelSession)
				r.Post("/heartbeat", h.Heartbeat)
			})

			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", h.ListMyWithdrawals)
				r.Post("/", h.SubmitWithdrawal)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Use(RequireAdmin)
			r.Get("/stats", h.GetStats)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
				r.Delete("/{id}", h.DeleteUser)
				r.Post("/{id}/approve", h.ApproveUser)
				r.Post("/{id}/block", h.BlockUser)
				r.Put("/{id}/password", h.ResetPassword)
				r.Get("/{id}/reconcile", h.ReconcileUser)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", h.ListTasks)
				r.Post("/", h.CreateTask)
				r.Put("/{id}", h.EditTask)
				r.Delete("/{id}", h.DeleteTask)
			})

			r.Route("/withdrawals", func(r chi.Router) {
				r.Get("/", h.ListWithdrawals)
				r.Post("/{id}/approve", h.ApproveWithdrawal)
				r.Post("/{id}/reject", h.RejectWithdrawal)
			})

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		})
	})

	return r
}
