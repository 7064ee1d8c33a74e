/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario registers tenants and plays
	transactions through the processor, so every seeded row went through
	the same validation, guard, and audit path as production traffic.

AVAILABLE SCENARIOS:

	credit-walkthrough: One wallet through deposit, credit-backed payment,
	                    refund, and top-up
	two-storefronts:    Two tenants with overlapping user ids, showing
	                    per-tenant wallets and isolation
	busy-wallet:        Many small payments for history pagination demos

IDEMPOTENT LOADING:

	Every seeded entry carries an idempotency key, so loading a scenario
	twice replays the prior transactions instead of doubling balances.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "credit-walkthrough"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

SEE ALSO:
  - handlers.go: ApplyTransaction (the path seeding reuses)
  - wallet/processor.go: Validation and application rules
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "credit-walkthrough",
		Name:        "Credit Walkthrough",
		Description: "Deposit, credit-backed payment, refund clearing credit first, top-up",
	},
	{
		ID:          "two-storefronts",
		Name:        "Two Storefronts",
		Description: "Same user ids under two tenants, fully isolated wallets",
	},
	{
		ID:          "busy-wallet",
		Name:        "Busy Wallet",
		Description: "A wallet with enough history to exercise cursor pagination",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "credit-walkthrough":
		err = h.loadCreditWalkthrough(ctx)
	case "two-storefronts":
		err = h.loadTwoStorefronts(ctx)
	case "busy-wallet":
		err = h.loadBusyWallet(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err != nil {
		writeError(w, statusFor(err), "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedTenant(ctx context.Context, id, name, currency, creditLimit string) (wallet.Context, error) {
	limit, err := decimal.NewFromString(creditLimit)
	if err != nil {
		return wallet.Context{}, err
	}
	t := wallet.Tenant{
		ID:                 wallet.TenantID(id),
		Name:               name,
		Currency:           wallet.Currency(currency),
		DefaultCreditLimit: limit,
	}
	if err := h.store().SaveTenant(ctx, t); err != nil {
		return wallet.Context{}, err
	}
	return wallet.Context{
		UserID:   "scenario-loader",
		TenantID: t.ID,
		Role:     wallet.RoleAdmin,
	}, nil
}

type seedEntry struct {
	typ    wallet.TransactionType
	amount string
	order  string
	reason string
}

func (h *Handler) seedHistory(ctx context.Context, tc wallet.Context, userID wallet.UserID, entries []seedEntry) error {
	for i, e := range entries {
		amount, err := decimal.NewFromString(e.amount)
		if err != nil {
			return err
		}
		_, err = h.Processor.ApplyForUser(ctx, tc, userID, wallet.Entry{
			Type:           e.typ,
			Amount:         wallet.Money{Value: amount},
			RelatedOrderID: e.order,
			Reason:         e.reason,
			// Deterministic keys make reloading a replay, not a double-apply.
			IdempotencyKey: fmt.Sprintf("seed-%s-%s-%d", tc.TenantID, userID, i),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// loadCreditWalkthrough plays one wallet through the full credit cycle:
// a 100 deposit, a 120 payment dipping 20 into credit, a 40 refund that
// clears the credit first, and a 10 top-up.
func (h *Handler) loadCreditWalkthrough(ctx context.Context) error {
	tc, err := h.seedTenant(ctx, "walkthrough-shop", "Walkthrough Shop", "EUR", "50")
	if err != nil {
		return err
	}

	return h.seedHistory(ctx, tc, "alice", []seedEntry{
		{wallet.TxDeposit, "100", "", "initial top-up"},
		{wallet.TxPayment, "120", "order-1001", ""},
		{wallet.TxRefund, "40", "order-1001", "partial return"},
		{wallet.TxDeposit, "10", "", "top-up"},
	})
}

// loadTwoStorefronts registers two tenants with the same user ids; each
// (user, tenant) pair gets its own wallet with independent balances.
func (h *Handler) loadTwoStorefronts(ctx context.Context) error {
	north, err := h.seedTenant(ctx, "north-market", "North Market", "EUR", "100")
	if err != nil {
		return err
	}
	south, err := h.seedTenant(ctx, "south-market", "South Market", "USD", "0")
	if err != nil {
		return err
	}

	if err := h.seedHistory(ctx, north, "bob", []seedEntry{
		{wallet.TxDeposit, "250", "", "welcome credit"},
		{wallet.TxPayment, "80", "order-2001", ""},
	}); err != nil {
		return err
	}
	return h.seedHistory(ctx, south, "bob", []seedEntry{
		{wallet.TxDeposit, "40", "", "welcome credit"},
	})
}

// loadBusyWallet seeds enough history on one wallet to page through.
func (h *Handler) loadBusyWallet(ctx context.Context) error {
	tc, err := h.seedTenant(ctx, "busy-shop", "Busy Shop", "EUR", "500")
	if err != nil {
		return err
	}

	entries := []seedEntry{{wallet.TxDeposit, "1000", "", "funding"}}
	for i := 0; i < 60; i++ {
		entries = append(entries, seedEntry{
			wallet.TxPayment, "7.50", fmt.Sprintf("order-3%03d", i), "",
		})
	}
	return h.seedHistory(ctx, tc, "carol", entries)
}
