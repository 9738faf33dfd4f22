/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap access log carrying the request ID
  4. Metrics:    Prometheus request counter and latency
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for the till frontend

ROUTE GROUPS:
  /health              Liveness + DB ping (public)
  /metrics             Prometheus scrape (public)
  /api/auth/login      Public
  /api/*               Everything else requires a token
  /api/scenarios/*     Demo data, admin only

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/logger"
)

// RouterOptions holds settings that come from configuration.
type RouterOptions struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(h.Logger))
	r.Use(h.Metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.Auth.Tokens()))
			r.Use(auth.RequireActive(h.Auth))

			r.Post("/auth/logout", h.Logout)
			r.Get("/auth/me", h.Me)

			// Sale routes
			r.Route("/sales", func(r chi.Router) {
				r.Post("/", h.CreateSale)
				r.Get("/", h.ListSales)
				r.Get("/stats", h.SalesStats)
				r.Post("/debt-payment", h.PayClientDebt)
				r.Get("/client/{id}/debt-history", h.ClientDebtHistory)
				r.Get("/client/{id}/debts", h.ClientDebts)
				r.Get("/{id}", h.GetSale)
				r.Post("/{id}/pay-debt", h.PayDebt)
				r.Patch("/{id}/cancel", h.CancelSale)
			})

			// Client routes
			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.ListClients)
				r.Post("/", h.CreateClient)
				r.Get("/{id}", h.GetClient)
				r.Put("/{id}", h.UpdateClient)
			})

			// Catalog routes; writes are admin only
			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.Get("/{id}", h.GetProduct)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", h.CreateProduct)
			})
			r.Route("/variants", func(r chi.Router) {
				r.Get("/", h.ListVariants)
				r.Get("/{id}", h.GetVariant)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", h.CreateVariant)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{id}/stock", h.AdjustStock)
			})

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r
}
