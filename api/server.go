/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for the CRM frontend

ROUTE GROUPS:
  /api/accounts/*           Accounts and balances
  /api/movements            Ledger append
  /api/payments/*           Customer payment settlement
  /api/operator-payments/*  Operator payment settlement
  /api/expenses/*           Expense settlement
  /api/operations/*         Per-operation debt and audit trail
  /api/debtors, /creditors  Debt rollups
  /api/position/*           Monthly financial position
  /api/fx/*                 Exchange rates
  /api/reconciliation/*     Consistency sweep
  /api/scenarios/*          Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. The engine runs behind the
  CRM backend; the CORS allowlist is the only perimeter control.

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
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/movements", h.GetMovements)
		})

		// Ledger routes
		r.Post("/movements", h.AppendMovement)

		// Settlement routes
		r.Post("/payments/{id}/pay", h.MarkPaymentPaid)
		r.Post("/operator-payments/{id}/pay", h.MarkOperatorPaymentPaid)
		r.Post("/expenses/{id}/pay", h.MarkExpensePaid)

		// Debt routes
		r.Get("/operations/{id}/debt", h.GetOperationDebt)
		r.Get("/operations/{id}/movements", h.ListOperationMovements)
		r.Get("/debtors", h.ListDebtors)
		r.Get("/creditors", h.ListCreditors)

		// Position routes
		r.Get("/position/{year}/{month}", h.GetPosition)

		// FX routes
		r.Route("/fx", func(r chi.Router) {
			r.Post("/", h.SaveRate)
			r.Get("/{date}", h.GetRate)
		})

		// Reconciliation routes
		r.Post("/reconciliation/run", h.RunReconciliation)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
