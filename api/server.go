/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request counter and latency by route pattern
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/sessions/*   Simulation sessions
  /api/runs/*       Archived runs
  /api/scenarios    Scenario analysis
  /api/presets      Demo networks
  /metrics          Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.Delete("/{id}", h.DeleteSession)
			r.Get("/{id}/metrics", h.GetMetrics)
			r.Get("/{id}/history", h.GetHistory)
			r.Post("/{id}/evaluate", h.Evaluate)
			r.Post("/{id}/optimize", h.Optimize)
			r.Get("/{id}/audit", h.Audit)
			r.Post("/{id}/archive", h.ArchiveSession)

			// Partner routes
			r.Post("/{id}/partners", h.AddPartner)
			r.Get("/{id}/partners/{pid}", h.GetPartner)
			r.Post("/{id}/partners/{pid}/kit", h.PurchaseKit)
			r.Put("/{id}/partners/{pid}/volume", h.SetVolume)
			r.Post("/{id}/partners/{pid}/mentees", h.AddMentee)
			r.Delete("/{id}/partners/{pid}/mentees/{mid}", h.RemoveMentee)
			r.Post("/{id}/partners/{pid}/events", h.AttendEvent)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})

		r.Get("/scenarios", h.ListScenarios)
		r.Get("/presets", h.ListPresets)
	})

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	return r
}

// observe records every request under its route pattern once chi has
// matched it.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.ObserveRequest(route, r.Method, status, time.Since(start))
	})
}
