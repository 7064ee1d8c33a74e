// Package store provides an in-memory wallet.Store implementation
// for tests and local development.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	tenants map[wallet.TenantID]wallet.Tenant
	wallets map[wallet.WalletID]*wallet.Wallet
	byUser  map[userKey]wallet.WalletID
	ledgers map[wallet.WalletID][]wallet.Transaction // oldest first
	idem    map[idemKey]wallet.TransactionID
	audit   []wallet.AuditRecord
	seq     int64
}

type userKey struct {
	UserID   wallet.UserID
	TenantID wallet.TenantID
}

type idemKey struct {
	WalletID wallet.WalletID
	Key      string
}

func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[wallet.TenantID]wallet.Tenant),
		wallets: make(map[wallet.WalletID]*wallet.Wallet),
		byUser:  make(map[userKey]wallet.WalletID),
		ledgers: make(map[wallet.WalletID][]wallet.Transaction),
		idem:    make(map[idemKey]wallet.TransactionID),
	}
}

// =============================================================================
// TENANTS
// =============================================================================

func (m *Memory) SaveTenant(_ context.Context, t wallet.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id wallet.TenantID) (*wallet.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, wallet.ErrTenantNotFound
	}
	return &t, nil
}

func (m *Memory) ListTenants(_ context.Context) ([]wallet.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// WALLETS
// =============================================================================

// GetWallet implements create-on-read: first access for a (user, tenant)
// pair creates a zero-balance wallet with the tenant's defaults.
func (m *Memory) GetWallet(_ context.Context, tc wallet.Context, userID wallet.UserID) (*wallet.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := userKey{UserID: userID, TenantID: tc.TenantID}
	if id, ok := m.byUser[k]; ok {
		w := *m.wallets[id]
		return &w, nil
	}

	t, ok := m.tenants[tc.TenantID]
	if !ok {
		return nil, wallet.ErrTenantNotFound
	}

	now := time.Now().UTC()
	w := &wallet.Wallet{
		ID:             wallet.WalletID(uuid.NewString()),
		UserID:         userID,
		TenantID:       tc.TenantID,
		Currency:       t.Currency,
		DepositBalance: wallet.Money{Value: wallet.MustParseDecimal("0"), Currency: t.Currency},
		CreditLimit:    wallet.Money{Value: t.DefaultCreditLimit, Currency: t.Currency},
		CreditUsed:     wallet.Money{Value: wallet.MustParseDecimal("0"), Currency: t.Currency},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.wallets[w.ID] = w
	m.byUser[k] = w.ID

	cp := *w
	return &cp, nil
}

func (m *Memory) GetWalletByID(_ context.Context, tc wallet.Context, walletID wallet.WalletID) (*wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getWalletLocked(tc, walletID)
}

func (m *Memory) getWalletLocked(tc wallet.Context, walletID wallet.WalletID) (*wallet.Wallet, error) {
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	if w.TenantID != tc.TenantID {
		return nil, &wallet.TenantMismatchError{
			ContextTenant: tc.TenantID,
			RowTenant:     w.TenantID,
			WalletID:      walletID,
		}
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) ListWallets(_ context.Context, tc wallet.Context) ([]wallet.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []wallet.Wallet
	for _, w := range m.wallets {
		if w.TenantID == tc.TenantID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// LEDGER - append-only
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tc wallet.Context, tx wallet.Transaction, expectedVersion int64, audit wallet.AuditRecord) (*wallet.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[tx.WalletID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	if w.TenantID != tc.TenantID || tx.TenantID != w.TenantID {
		return nil, &wallet.TenantMismatchError{
			ContextTenant: tc.TenantID,
			RowTenant:     w.TenantID,
			WalletID:      tx.WalletID,
		}
	}
	if w.Version != expectedVersion {
		return nil, wallet.ErrInternalLedger
	}
	if tx.IdempotencyKey != "" {
		if _, dup := m.idem[idemKey{WalletID: tx.WalletID, Key: tx.IdempotencyKey}]; dup {
			return nil, wallet.ErrDuplicateTransaction
		}
	}

	m.seq++
	tx.Seq = m.seq
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	// All three writes commit together under the same lock: ledger row,
	// projection move, audit record.
	m.ledgers[tx.WalletID] = append(m.ledgers[tx.WalletID], tx)
	if tx.IdempotencyKey != "" {
		m.idem[idemKey{WalletID: tx.WalletID, Key: tx.IdempotencyKey}] = tx.ID
	}
	w.DepositBalance = tx.DepositAfter
	w.CreditUsed = tx.CreditUsedAfter
	w.Version++
	w.UpdatedAt = tx.CreatedAt

	audit.Status = wallet.AuditCommitted
	audit.CreatedAt = tx.CreatedAt
	m.audit = append(m.audit, audit)

	cp := tx
	return &cp, nil
}

func (m *Memory) ListTransactions(_ context.Context, tc wallet.Context, walletID wallet.WalletID, cursor string, limit int) (*wallet.TransactionPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.getWalletLocked(tc, walletID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = wallet.DefaultPageSize
	}

	var before int64 = 1<<62 - 1
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, wallet.ErrInvalidCursor
		}
		before = n
	}

	ledger := m.ledgers[walletID]
	page := &wallet.TransactionPage{Transactions: []wallet.Transaction{}}
	// ledger is oldest first; walk backwards for newest first
	for i := len(ledger) - 1; i >= 0; i-- {
		tx := ledger[i]
		if tx.Seq >= before {
			continue
		}
		if len(page.Transactions) == limit {
			page.NextCursor = strconv.FormatInt(page.Transactions[limit-1].Seq, 10)
			return page, nil
		}
		page.Transactions = append(page.Transactions, tx)
	}
	return page, nil
}

func (m *Memory) LoadHistory(_ context.Context, tc wallet.Context, walletID wallet.WalletID) ([]wallet.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.getWalletLocked(tc, walletID); err != nil {
		return nil, err
	}
	out := make([]wallet.Transaction, len(m.ledgers[walletID]))
	copy(out, m.ledgers[walletID])
	return out, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, tc wallet.Context, walletID wallet.WalletID, key string) (*wallet.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.getWalletLocked(tc, walletID); err != nil {
		return nil, err
	}
	id, ok := m.idem[idemKey{WalletID: walletID, Key: key}]
	if !ok {
		return nil, nil
	}
	for _, tx := range m.ledgers[walletID] {
		if tx.ID == id {
			cp := tx
			return &cp, nil
		}
	}
	return nil, nil
}

// =============================================================================
// AUDIT LOG - append-only
// =============================================================================

func (m *Memory) AppendFailedAttempt(_ context.Context, rec wallet.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = wallet.AuditFailed
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, rec)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, tc wallet.Context, filter wallet.AuditFilter) ([]wallet.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []wallet.AuditRecord
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.audit[i]
		if rec.TenantID != tc.TenantID {
			continue
		}
		if filter.WalletID != nil && rec.WalletID != *filter.WalletID {
			continue
		}
		if filter.ActorID != nil && rec.ActorID != *filter.ActorID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
