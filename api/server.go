/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/tenants/{tenantID}/allocations       Payment allocation
  /api/tenants/{tenantID}/payments/*        Payment reversal
  /api/tenants/{tenantID}/invoices/*        Invoice balances
  /api/tenants/{tenantID}/reconciliations   Reconciliation runs
  /api/tenants/{tenantID}/transactions/*    Unmatched listing + matching
  /api/tenants/{tenantID}/audit             Audit trail query
  /api/health                               Liveness probe

SECURITY NOTE:
  No authentication middleware; the platform gateway in front of this
  service terminates auth and injects the tenant id into the path.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
// allowedOrigins feeds the CORS allowlist; an empty list falls back
// to allowing any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			// Allocation routes
			r.Post("/allocations", h.Allocate)
			r.Post("/payments/{paymentID}/reverse", h.ReversePayment)

			// Invoice routes
			r.Get("/invoices/{invoiceID}", h.GetInvoice)

			// Reconciliation routes
			r.Route("/reconciliations", func(r chi.Router) {
				r.Post("/", h.Reconcile)
				r.Get("/", h.ListReconciliations)
				r.Delete("/", h.Unreconcile)
			})

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/unmatched", h.GetUnmatched)
				r.Post("/match", h.MatchTransactions)
			})

			// Audit routes
			r.Get("/audit", h.GetAudit)
		})
	})

	// Service index for anyone hitting the root directly.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"service": "ledger-engine",
			"endpoints": []string{
				"/api/health",
				"/api/tenants/{tenantID}/allocations",
				"/api/tenants/{tenantID}/payments/{paymentID}/reverse",
				"/api/tenants/{tenantID}/invoices/{invoiceID}",
				"/api/tenants/{tenantID}/reconciliations",
				"/api/tenants/{tenantID}/transactions/unmatched",
				"/api/tenants/{tenantID}/transactions/match",
				"/api/tenants/{tenantID}/audit",
			},
		})
	})

	return r
}
