/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboard frontends

ROUTE GROUPS:
  /api/receipts/*    Ledger mutations and reads
  /api/analytics/*   Rollup reads (dashboards)
  /api/targets       Target administration
  /api/achievement   Target vs. collected fees
  /api/admin/*       Backfill and recompute

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Receipt routes
		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", h.ListReceipts)
			r.Post("/", h.CreateReceipt)
			r.Get("/{id}", h.GetReceipt)
			r.Put("/{id}", h.UpdateReceipt)
			r.Delete("/{id}", h.CancelReceipt)
		})

		// Analytics routes
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/daily", h.GetDailyAnalytics)
			r.Get("/monthly", h.GetMonthlyAnalytics)
			r.Get("/traders", h.GetTraderAnalytics)
			r.Get("/traders/{id}/overall", h.GetTraderOverall)
			r.Get("/commodities", h.GetCommodityAnalytics)
			r.Get("/commodities/{id}/overall", h.GetCommodityOverall)
		})

		// Target routes
		r.Post("/targets", h.SetTarget)
		r.Get("/achievement", h.GetAchievement)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/backfill", h.RunBackfill)
			r.Post("/recompute", h.RunRecompute)
		})
	})

	return r
}
