package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/wallet"
	"github.com/warp/wallet-engine/wallet/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testTenant = "shop-1"

type testServer struct {
	router *chi.Mux
	store  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := store.NewMemory()
	require.NoError(t, mem.SaveTenant(context.Background(), wallet.Tenant{
		ID:                 testTenant,
		Name:               "Test Shop",
		Currency:           wallet.CurrencyEUR,
		DefaultCreditLimit: decimal.NewFromInt(50),
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	processor := wallet.NewProcessor(mem, wallet.NewGuard(wallet.DefaultLockTimeout), log)
	handler := api.NewHandler(processor, log)
	return &testServer{router: api.NewRouter(handler), store: mem}
}

type session struct {
	userID string
	tenant string
	role   string
}

func asCustomer(userID string) session {
	return session{userID: userID, tenant: testTenant, role: "customer"}
}

func asAdmin() session {
	return session{userID: "admin-1", tenant: testTenant, role: "admin"}
}

func (ts *testServer) do(t *testing.T, s session, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if s.userID != "" {
		req.Header.Set("X-User-Id", s.userID)
	}
	if s.tenant != "" {
		req.Header.Set("X-Tenant-Id", s.tenant)
	}
	if s.role != "" {
		req.Header.Set("X-Role", s.role)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// seedWallet creates the user's wallet and funds it with the given deposit.
func (ts *testServer) seedWallet(t *testing.T, userID, amount string) api.WalletDTO {
	t.Helper()
	w := decodeJSON[api.WalletDTO](t, ts.do(t, asCustomer(userID), http.MethodGet, "/api/wallets/me", nil))
	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/wallets/"+w.ID+"/transactions", api.ApplyTransactionRequest{
		Type:   "deposit",
		Amount: amount,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return w
}

// =============================================================================
// SESSION RESOLUTION
// =============================================================================

func TestAPI_NoSessionHeaders_Unauthorized(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, session{}, http.MethodGet, "/api/wallets/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_MissingTenantHeader_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, session{userID: "alice"}, http.MethodGet, "/api/wallets/me", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_UnknownRole_TreatedAsCustomer(t *testing.T) {
	// An unrecognized role claim must never grant elevated access.
	ts := newTestServer(t)
	rec := ts.do(t, session{userID: "x", tenant: testTenant, role: "superuser"},
		http.MethodGet, "/api/admin/tenants", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// WALLET ENDPOINTS
// =============================================================================

func TestGetMyWallet_FirstCall_CreatesWallet(t *testing.T) {
	// GIVEN: alice has never been seen before
	// WHEN: she fetches her own wallet
	// THEN: it is created with the tenant defaults

	ts := newTestServer(t)
	rec := ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	w := decodeJSON[api.WalletDTO](t, rec)
	assert.Equal(t, "alice", w.UserID)
	assert.Equal(t, testTenant, w.TenantID)
	assert.Equal(t, "0", w.DepositBalance)
	assert.Equal(t, "50", w.CreditLimit)
	assert.Equal(t, "50", w.SpendingPower)
}

func TestGetWallet_OtherCustomersWallet_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "100")

	rec := ts.do(t, asCustomer("mallory"), http.MethodGet, "/api/wallets/"+w.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetWallet_CrossTenantSession_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "100")

	require.NoError(t, ts.store.SaveTenant(context.Background(), wallet.Tenant{
		ID: "shop-2", Name: "Other Shop", Currency: wallet.CurrencyEUR,
	}))

	foreign := session{userID: "admin-2", tenant: "shop-2", role: "admin"}
	rec := ts.do(t, foreign, http.MethodGet, "/api/wallets/"+w.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetWallet_Unknown_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, asAdmin(), http.MethodGet, "/api/wallets/no-such-wallet", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWallets_CustomerRole_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestApplyTransaction_Payment_UpdatesBalances(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "100")

	rec := ts.do(t, asCustomer("alice"), http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
		api.ApplyTransactionRequest{Type: "payment", Amount: "120", RelatedOrderID: "order-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tx := decodeJSON[api.TransactionDTO](t, rec)
	assert.Equal(t, "payment", tx.Type)
	assert.Equal(t, "0", tx.DepositAfter)
	assert.Equal(t, "20", tx.CreditUsedAfter)
	assert.Equal(t, "order-1", tx.RelatedOrderID)
}

func TestApplyTransaction_InsufficientFunds_Unprocessable(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "10")

	// spending power: 10 deposit + 50 limit
	rec := ts.do(t, asCustomer("alice"), http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
		api.ApplyTransactionRequest{Type: "payment", Amount: "61"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeJSON[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.Details)
}

func TestApplyTransaction_CustomerDeposit_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	w := decodeJSON[api.WalletDTO](t, ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/me", nil))

	rec := ts.do(t, asCustomer("alice"), http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
		api.ApplyTransactionRequest{Type: "deposit", Amount: "100"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApplyTransaction_IdempotentReplay_ReturnsSameTransaction(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "100")

	body := api.ApplyTransactionRequest{
		Type: "payment", Amount: "30", RelatedOrderID: "order-7", IdempotencyKey: "order-7",
	}
	first := decodeJSON[api.TransactionDTO](t, ts.do(t, asCustomer("alice"), http.MethodPost, "/api/wallets/"+w.ID+"/transactions", body))
	second := decodeJSON[api.TransactionDTO](t, ts.do(t, asCustomer("alice"), http.MethodPost, "/api/wallets/"+w.ID+"/transactions", body))
	assert.Equal(t, first.ID, second.ID)

	reloaded := decodeJSON[api.WalletDTO](t, ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/"+w.ID, nil))
	assert.Equal(t, "70", reloaded.DepositBalance)
}

func TestApplyTransaction_MalformedBody_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "10")

	req := httptest.NewRequest(http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
		bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-Id", "admin-1")
	req.Header.Set("X-Tenant-Id", testTenant)
	req.Header.Set("X-Role", "admin")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyTransaction_NonDecimalAmount_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "10")

	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
		api.ApplyTransactionRequest{Type: "deposit", Amount: "ten euros"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestListTransactions_CursorPagination(t *testing.T) {
	ts := newTestServer(t)
	w := decodeJSON[api.WalletDTO](t, ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/me", nil))

	for i := 0; i < 5; i++ {
		rec := ts.do(t, asAdmin(), http.MethodPost, "/api/wallets/"+w.ID+"/transactions",
			api.ApplyTransactionRequest{Type: "deposit", Amount: "10", Reason: fmt.Sprintf("top-up %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	first := decodeJSON[api.TransactionPageDTO](t,
		ts.do(t, asCustomer("alice"), http.MethodGet, "/api/wallets/"+w.ID+"/transactions?limit=2", nil))
	require.Len(t, first.Transactions, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "top-up 4", first.Transactions[0].Reason, "newest first")

	second := decodeJSON[api.TransactionPageDTO](t,
		ts.do(t, asCustomer("alice"), http.MethodGet,
			"/api/wallets/"+w.ID+"/transactions?limit=2&cursor="+first.NextCursor, nil))
	require.Len(t, second.Transactions, 2)
	assert.NotEqual(t, first.Transactions[0].ID, second.Transactions[0].ID)
}

func TestListTransactions_InvalidCursor_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "10")

	rec := ts.do(t, asCustomer("alice"), http.MethodGet,
		"/api/wallets/"+w.ID+"/transactions?cursor=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func TestSaveTenant_AdminRole_Created(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/admin/tenants", api.SaveTenantRequest{
		ID: "shop-2", Name: "Second Shop", Currency: "USD", DefaultCreditLimit: "25",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeJSON[api.TenantDTO](t, ts.do(t, asAdmin(), http.MethodGet, "/api/admin/tenants/shop-2", nil))
	assert.Equal(t, "Second Shop", got.Name)
	assert.Equal(t, "25", got.DefaultCreditLimit)
}

func TestSaveTenant_MissingFields_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/admin/tenants", api.SaveTenantRequest{ID: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryAudit_CustomerRole_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, asCustomer("alice"), http.MethodGet, "/api/admin/audit", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQueryAudit_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.seedWallet(t, "alice", "100")

	rec := ts.do(t, asAdmin(), http.MethodGet, "/api/admin/audit?status=committed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeJSON[[]api.AuditRecordDTO](t, rec)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, "committed", r.Status)
	}
}

func TestVerifyWallet_CleanLedger_NoDrifts(t *testing.T) {
	ts := newTestServer(t)
	w := ts.seedWallet(t, "alice", "100")

	rec := ts.do(t, asAdmin(), http.MethodGet, "/api/wallets/"+w.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeJSON[api.VerifyResultDTO](t, rec)
	assert.Equal(t, 1, result.WalletsChecked)
	assert.Empty(t, result.Drifts)
}

func TestVerifyAllWallets_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.seedWallet(t, "alice", "100")
	ts.seedWallet(t, "bob", "20")

	rec := ts.do(t, asCustomer("alice"), http.MethodPost, "/api/admin/verify", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, asAdmin(), http.MethodPost, "/api/admin/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON[api.VerifyResultDTO](t, rec)
	assert.Equal(t, 2, result.WalletsChecked)
	assert.Empty(t, result.Drifts)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadAndQuery(t *testing.T) {
	ts := newTestServer(t)

	list := decodeJSON[[]api.ScenarioDTO](t, ts.do(t, asAdmin(), http.MethodGet, "/api/scenarios/", nil))
	require.NotEmpty(t, list)

	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/scenarios/load",
		api.LoadScenarioRequest{ScenarioID: "credit-walkthrough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decodeJSON[api.ScenarioDTO](t, ts.do(t, asAdmin(), http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "credit-walkthrough", current.ID)

	// The walkthrough leaves alice with 30 deposit and no credit used.
	alice := session{userID: "alice", tenant: "walkthrough-shop", role: "customer"}
	w := decodeJSON[api.WalletDTO](t, ts.do(t, alice, http.MethodGet, "/api/wallets/me", nil))
	assert.Equal(t, "30", w.DepositBalance)
	assert.Equal(t, "0", w.CreditUsed)
}

func TestScenarios_UnknownScenario_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, asAdmin(), http.MethodPost, "/api/scenarios/load",
		api.LoadScenarioRequest{ScenarioID: "no-such-scenario"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
