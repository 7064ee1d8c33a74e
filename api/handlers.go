/*
handlers.go - HTTP API handlers for the wallet engine

PURPOSE:
  Exposes the wallet engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Wallets:
    GET    /api/wallets/me                 Caller's own wallet (lazy-created)
    GET    /api/wallets                    List tenant wallets (admin)
    GET    /api/wallets/{id}               Get wallet balances
    GET    /api/wallets/{id}/transactions  History page (cursor + limit)
    POST   /api/wallets/{id}/transactions  Apply deposit/payment/refund/adjustment
    GET    /api/wallets/{id}/verify        Re-fold one ledger (admin)

  Admin:
    GET    /api/admin/tenants              List tenants
    POST   /api/admin/tenants              Register/update tenant defaults
    GET    /api/admin/tenants/{id}         Tenant details
    GET    /api/admin/audit                Query audit log
    POST   /api/admin/verify               Verify all tenant ledgers

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

REQUEST FLOW:
  1. Session middleware resolves the (user, tenant, role) context
  2. Parse HTTP request
  3. Call domain logic (processor, store)
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, bad cursor
  - 401: No resolvable session
  - 403: Cross-tenant access, missing role
  - 404: Wallet or tenant not found
  - 409: Duplicate idempotency race, wallet busy (lock timeout)
  - 422: Insufficient funds
  - 500: Internal ledger errors

OWNERSHIP:
  Customers may only touch their own wallet; admin and service roles
  operate on any wallet of their tenant. Cross-tenant access never
  succeeds for anyone - the store enforces that below this layer.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Processor *wallet.Processor
	Log       *logrus.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler around the given processor.
func NewHandler(p *wallet.Processor, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Processor: p, Log: log}
}

func (h *Handler) store() wallet.Store { return h.Processor.Store() }

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetMyWallet returns (and lazily creates) the caller's wallet.
func (h *Handler) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)

	wal, err := h.store().GetWallet(r.Context(), tc, tc.UserID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to load wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, toWalletDTO(*wal))
}

// ListWallets returns all wallets of the caller's tenant. Admin only.
func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	wallets, err := h.store().ListWallets(r.Context(), tc)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list wallets", err)
		return
	}

	dtos := make([]WalletDTO, len(wallets))
	for i, wal := range wallets {
		dtos[i] = toWalletDTO(wal)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWallet returns a single wallet's balances.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	walletID := wallet.WalletID(chi.URLParam(r, "id"))

	wal, err := h.loadOwnedWallet(r, tc, walletID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to load wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, toWalletDTO(*wal))
}

// ListTransactions returns one history page, newest first.
// Query params: cursor (opaque), limit (default 50).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	walletID := wallet.WalletID(chi.URLParam(r, "id"))

	if _, err := h.loadOwnedWallet(r, tc, walletID); err != nil {
		writeError(w, statusFor(err), "Failed to load wallet", err)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	page, err := h.store().ListTransactions(r.Context(), tc, walletID, cursor, limit)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(page.Transactions))
	for i, tx := range page.Transactions {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Transactions: dtos,
		NextCursor:   page.NextCursor,
	})
}

// ApplyTransaction applies one deposit/payment/refund/adjustment to a
// wallet. Replayed idempotency keys return the prior committed result.
func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	walletID := wallet.WalletID(chi.URLParam(r, "id"))

	var req ApplyTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (decimal string required)", err)
		return
	}

	if _, err := h.loadOwnedWallet(r, tc, walletID); err != nil {
		writeError(w, statusFor(err), "Failed to load wallet", err)
		return
	}

	entry := wallet.Entry{
		Type:           wallet.TransactionType(req.Type),
		Amount:         wallet.Money{Value: amount},
		Target:         wallet.AdjustTarget(req.Target),
		RelatedOrderID: req.RelatedOrderID,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	}

	tx, err := h.Processor.Apply(r.Context(), tc, walletID, entry)
	if err != nil {
		writeError(w, statusFor(err), "Transaction rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// VerifyWallet re-folds one wallet's ledger against its projection.
// Admin only.
func (h *Handler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}
	walletID := wallet.WalletID(chi.URLParam(r, "id"))

	drifts, err := h.Processor.VerifyWallet(r.Context(), tc, walletID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to verify ledger", err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResultDTO{
		WalletsChecked: 1,
		Drifts:         toDriftDTOs(drifts),
		CheckedAt:      time.Now().UTC().Format(time.RFC3339),
	})
}

// VerifyAllWallets re-folds every ledger of the caller's tenant.
// Admin only.
func (h *Handler) VerifyAllWallets(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	wallets, err := h.store().ListWallets(r.Context(), tc)
	if err != nil {
		writeError(w, statusFor(err), "Failed to list wallets", err)
		return
	}

	var all []*wallet.LedgerDriftError
	for _, wal := range wallets {
		drifts, err := h.Processor.VerifyWallet(r.Context(), tc, wal.ID)
		if err != nil {
			writeError(w, statusFor(err), "Failed to verify ledger", err)
			return
		}
		all = append(all, drifts...)
	}

	writeJSON(w, http.StatusOK, VerifyResultDTO{
		WalletsChecked: len(wallets),
		Drifts:         toDriftDTOs(all),
		CheckedAt:      time.Now().UTC().Format(time.RFC3339),
	})
}

// loadOwnedWallet loads walletID under tc and enforces ownership: customers
// may only touch their own wallet. Tenant isolation is enforced below in
// the store and never reaches this check.
func (h *Handler) loadOwnedWallet(r *http.Request, tc wallet.Context, walletID wallet.WalletID) (*wallet.Wallet, error) {
	wal, err := h.store().GetWalletByID(r.Context(), tc, walletID)
	if err != nil {
		if errors.Is(err, wallet.ErrTenantMismatch) {
			h.Log.WithFields(logrus.Fields{
				"security_event": "tenant_mismatch",
				"tenant_id":      tc.TenantID,
				"user_id":        tc.UserID,
				"wallet_id":      walletID,
			}).Warn("cross-tenant wallet access rejected")
		}
		return nil, err
	}
	if tc.Role == wallet.RoleCustomer && wal.UserID != tc.UserID {
		return nil, wallet.ErrAdminRequired
	}
	return wal, nil
}

// =============================================================================
// TENANT HANDLERS (admin)
// =============================================================================

// ListTenants returns all registered tenants.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	tenants, err := h.store().ListTenants(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "Failed to list tenants", err)
		return
	}

	dtos := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		dtos[i] = toTenantDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTenant returns one tenant registry row.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	t, err := h.store().GetTenant(r.Context(), wallet.TenantID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, statusFor(err), "Failed to load tenant", err)
		return
	}

	writeJSON(w, http.StatusOK, toTenantDTO(*t))
}

// SaveTenant registers or updates a tenant's wallet defaults.
func (h *Handler) SaveTenant(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	var req SaveTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.Currency == "" {
		writeError(w, http.StatusBadRequest, "id, name and currency are required", nil)
		return
	}

	limit := decimal.Zero
	if req.DefaultCreditLimit != "" {
		var err error
		limit, err = decimal.NewFromString(req.DefaultCreditLimit)
		if err != nil || limit.IsNegative() {
			writeError(w, http.StatusBadRequest, "Invalid default_credit_limit", err)
			return
		}
	}

	t := wallet.Tenant{
		ID:                 wallet.TenantID(req.ID),
		Name:               req.Name,
		Currency:           wallet.Currency(req.Currency),
		DefaultCreditLimit: limit,
	}
	if err := h.store().SaveTenant(r.Context(), t); err != nil {
		writeError(w, statusFor(err), "Failed to save tenant", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTenantDTO(t))
}

// =============================================================================
// AUDIT HANDLERS (admin)
// =============================================================================

// QueryAudit returns audit records of the caller's tenant, newest first.
// Query params: wallet_id, actor_id, status, limit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	tc := tenantContext(r)
	if !tc.IsAdmin() {
		writeError(w, http.StatusForbidden, "Admin role required", wallet.ErrAdminRequired)
		return
	}

	var filter wallet.AuditFilter
	q := r.URL.Query()
	if v := q.Get("wallet_id"); v != "" {
		id := wallet.WalletID(v)
		filter.WalletID = &id
	}
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := q.Get("status"); v != "" {
		status := wallet.AuditStatus(v)
		filter.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	records, err := h.store().QueryAudit(r.Context(), tc, filter)
	if err != nil {
		writeError(w, statusFor(err), "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, wallet.ErrTenantMismatch), errors.Is(err, wallet.ErrAdminRequired):
		return http.StatusForbidden
	case wallet.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrDuplicateTransaction), errors.Is(err, wallet.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInvalidEntry), errors.Is(err, wallet.ErrInvalidCursor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
