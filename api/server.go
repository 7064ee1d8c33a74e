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
  4. CORS:       Cross-origin requests for storefront frontends
  5. Session:    Resolves the (user, tenant, role) context from headers

SESSION HEADERS:
  X-User-Id, X-Tenant-Id, X-Role. In production these are set by the
  platform's auth gateway after token validation; the engine itself never
  parses credentials. A request without a resolvable context is rejected
  with 401/403 before any handler runs.

ROUTE GROUPS:
  /api/wallets/*        Wallet balances and transaction history
  /api/admin/*          Tenant registry, audit queries, ledger verification
  /api/scenarios/*      Demo scenarios (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - wallet/context.go: Context resolution rules
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/wallet-engine/wallet"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Tenant-Id", "X-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(sessionContext)

		// Wallet routes
		r.Route("/wallets", func(r chi.Router) {
			r.Get("/me", h.GetMyWallet)
			r.Get("/", h.ListWallets)
			r.Get("/{id}", h.GetWallet)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Post("/{id}/transactions", h.ApplyTransaction)
			r.Get("/{id}/verify", h.VerifyWallet)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/tenants", h.ListTenants)
			r.Post("/tenants", h.SaveTenant)
			r.Get("/tenants/{id}", h.GetTenant)
			r.Get("/audit", h.QueryAudit)
			r.Post("/verify", h.VerifyAllWallets)
		})

		// Scenario routes (dev/demo)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// SESSION MIDDLEWARE
// =============================================================================

type contextKey string

const walletContextKey contextKey = "wallet-context"

// sessionContext resolves the tenant context once per request and stores it
// in the request context. Handlers never read identity headers themselves.
func sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := &wallet.Session{
			UserID:   r.Header.Get("X-User-Id"),
			TenantID: r.Header.Get("X-Tenant-Id"),
			Role:     r.Header.Get("X-Role"),
		}
		tc, err := wallet.ResolveContext(session)
		if err != nil {
			writeError(w, statusFor(err), "Unable to resolve session context", err)
			return
		}

		ctx := context.WithValue(r.Context(), walletContextKey, tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantContext returns the resolved context stored by sessionContext.
func tenantContext(r *http.Request) wallet.Context {
	tc, _ := r.Context().Value(walletContextKey).(wallet.Context)
	return tc
}
