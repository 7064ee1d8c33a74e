/*
Package sqlite provides the SQLite-backed implementation of wallet.Store.

PURPOSE:
  Production persistence for the wallet engine: the append-only transaction
  ledger, the wallet projection rows, the audit log, and the tenant
  registry. The same patterns apply to PostgreSQL - only dialect and
  row-security mechanics differ.

APPEND-ONLY ENFORCEMENT:
  The ledger and audit tables are protected by database triggers that
  RAISE(ABORT) on any UPDATE or DELETE. Even a buggy future code path
  cannot rewrite history; corrections happen via refund and adjustment
  transactions only.

TENANT ISOLATION - TWO LAYERS:
  1. Application layer: every query filters by the resolved tenant and
     every scanned row is re-verified against it.
  2. Database layer: each mutating unit of work runs on a pinned
     connection carrying a tenant_scope temp table with the resolved
     tenant, and TEMP triggers reject any insert or update whose row
     tenant differs from the scope. A future query that forgets its
     tenant filter is blocked by the database itself.
  Additionally, a permanent trigger pins every ledger row's tenant to its
  parent wallet's tenant, and the wallet tenant column is frozen after
  insert.

ATOMICITY:
  AppendTransaction writes ledger row + projection update + audit record
  inside one database transaction. Rollback on any failure; the projection
  update is version-checked so a stale write aborts the whole unit.

KEY TABLES:
  tenants:             Registry with per-tenant wallet defaults
  wallets:             Projection rows, one per (user, tenant)
  wallet_transactions: Immutable ledger, monotonic seq for cursors
  audit_log:           Committed and failed-attempt records

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so balance reads don't
  block behind the single writer.

USAGE:
  store, err := sqlite.New("./data/wallets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - wallet/ledger.go: Interface definitions and atomicity contract
  - wallet/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/wallet-engine/wallet"
)

// Store implements wallet.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Temp triggers and temp tables are per-connection; capping the pool
	// keeps :memory: databases and the tenant scope coherent.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Tenant registry (wallet defaults per storefront)
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		default_credit_limit TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Wallet projection rows: cached fold of the ledger
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		currency TEXT NOT NULL,
		deposit_balance TEXT NOT NULL,
		credit_limit TEXT NOT NULL,
		credit_used TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, tenant_id)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_tenant
		ON wallets(tenant_id);

	-- Append-only ledger. seq is the monotonic cursor basis.
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		tenant_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		target TEXT,
		deposit_after TEXT NOT NULL,
		credit_used_after TEXT NOT NULL,
		related_order_id TEXT,
		actor_id TEXT,
		reason TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_wallet_seq
		ON wallet_transactions(wallet_id, seq DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON wallet_transactions(wallet_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_tenant
		ON wallet_transactions(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_order
		ON wallet_transactions(related_order_id)
		WHERE related_order_id IS NOT NULL;

	-- Audit log: committed records written atomically with their ledger
	-- row, failed attempts best-effort after rollback.
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		transaction_id TEXT,
		wallet_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		actor_id TEXT,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		deposit_before TEXT NOT NULL,
		deposit_after TEXT NOT NULL,
		credit_used_before TEXT NOT NULL,
		credit_used_after TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_wallet
		ON audit_log(wallet_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant
		ON audit_log(tenant_id, created_at DESC);

	-- APPEND-ONLY: the ledger and the audit log reject rewrites at the
	-- database level.
	CREATE TRIGGER IF NOT EXISTS trg_ledger_no_update
	BEFORE UPDATE ON wallet_transactions
	BEGIN
		SELECT RAISE(ABORT, 'ledger is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_ledger_no_delete
	BEFORE DELETE ON wallet_transactions
	BEGIN
		SELECT RAISE(ABORT, 'ledger is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_update
	BEFORE UPDATE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, 'audit log is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete
	BEFORE DELETE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, 'audit log is append-only');
	END;

	-- A ledger row's tenant is always its parent wallet's tenant.
	CREATE TRIGGER IF NOT EXISTS trg_tx_tenant_coherent
	BEFORE INSERT ON wallet_transactions
	WHEN NEW.tenant_id <> (SELECT tenant_id FROM wallets WHERE id = NEW.wallet_id)
	BEGIN
		SELECT RAISE(ABORT, 'transaction tenant must match wallet tenant');
	END;

	-- A wallet can never move between tenants.
	CREATE TRIGGER IF NOT EXISTS trg_wallet_tenant_frozen
	BEFORE UPDATE OF tenant_id ON wallets
	WHEN NEW.tenant_id <> OLD.tenant_id
	BEGIN
		SELECT RAISE(ABORT, 'wallet tenant is immutable');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TENANT-SCOPED UNITS OF WORK
// =============================================================================

// tenantScopeTriggers are installed per connection. They bind every write
// to the tenant recorded in tenant_scope for the current unit of work.
const tenantScopeTriggers = `
	CREATE TEMP TABLE IF NOT EXISTS tenant_scope (
		tenant_id TEXT NOT NULL
	);

	CREATE TEMP TRIGGER IF NOT EXISTS scope_wallets_insert
	BEFORE INSERT ON wallets
	WHEN NEW.tenant_id <> (SELECT tenant_id FROM tenant_scope)
	BEGIN
		SELECT RAISE(ABORT, 'tenant isolation violation');
	END;

	CREATE TEMP TRIGGER IF NOT EXISTS scope_wallets_update
	BEFORE UPDATE ON wallets
	WHEN OLD.tenant_id <> (SELECT tenant_id FROM tenant_scope)
	BEGIN
		SELECT RAISE(ABORT, 'tenant isolation violation');
	END;

	CREATE TEMP TRIGGER IF NOT EXISTS scope_transactions_insert
	BEFORE INSERT ON wallet_transactions
	WHEN NEW.tenant_id <> (SELECT tenant_id FROM tenant_scope)
	BEGIN
		SELECT RAISE(ABORT, 'tenant isolation violation');
	END;

	CREATE TEMP TRIGGER IF NOT EXISTS scope_audit_insert
	BEFORE INSERT ON audit_log
	WHEN NEW.tenant_id <> (SELECT tenant_id FROM tenant_scope)
	BEGIN
		SELECT RAISE(ABORT, 'tenant isolation violation');
	END;
`

// beginTenantTx pins a connection, binds the tenant scope for this unit of
// work, and opens a transaction. The caller must Commit/Rollback the tx and
// Close the conn.
func (s *Store) beginTenantTx(ctx context.Context, tenant wallet.TenantID) (*sql.Conn, *sql.Tx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}

	if _, err := conn.ExecContext(ctx, tenantScopeTriggers); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to install tenant scope: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM tenant_scope"); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO tenant_scope (tenant_id) VALUES (?)", string(tenant)); err != nil {
		conn.Close()
		return nil, nil, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, tx, nil
}

// =============================================================================
// TENANT REGISTRY
// =============================================================================

func (s *Store) SaveTenant(ctx context.Context, t wallet.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	// Currency is deliberately not updatable: it is tenant-fixed.
	query := `
		INSERT INTO tenants (id, name, currency, default_credit_limit, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_credit_limit = excluded.default_credit_limit
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Currency, t.DefaultCreditLimit.String(),
		t.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetTenant(ctx context.Context, id wallet.TenantID) (*wallet.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTenant(ctx, id)
}

func (s *Store) getTenant(ctx context.Context, id wallet.TenantID) (*wallet.Tenant, error) {
	var t wallet.Tenant
	var limit, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, currency, default_credit_limit, created_at FROM tenants WHERE id = ?",
		id,
	).Scan(&t.ID, &t.Name, &t.Currency, &limit, &createdAt)

	if err == sql.ErrNoRows {
		return nil, wallet.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}

	t.DefaultCreditLimit = wallet.MustParseDecimal(limit)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]wallet.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, currency, default_credit_limit, created_at FROM tenants ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []wallet.Tenant
	for rows.Next() {
		var t wallet.Tenant
		var limit, createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Currency, &limit, &createdAt); err != nil {
			return nil, err
		}
		t.DefaultCreditLimit = wallet.MustParseDecimal(limit)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// WALLETS
// =============================================================================

// GetWallet implements create-on-read: the first access for a (user, tenant)
// pair creates a zero-balance wallet with the tenant's default credit limit.
func (s *Store) GetWallet(ctx context.Context, tc wallet.Context, userID wallet.UserID) (*wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.queryWallet(ctx,
		"SELECT id, user_id, tenant_id, currency, deposit_balance, credit_limit, credit_used, version, created_at, updated_at FROM wallets WHERE user_id = ? AND tenant_id = ?",
		userID, tc.TenantID)
	if err != nil {
		return nil, err
	}
	if w != nil {
		return s.verifyTenant(tc, w)
	}

	t, err := s.getTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	zero := wallet.NewMoneyFromInt(0, t.Currency)
	fresh := wallet.Wallet{
		ID:             wallet.WalletID(uuid.NewString()),
		UserID:         userID,
		TenantID:       tc.TenantID,
		Currency:       t.Currency,
		DepositBalance: zero,
		CreditLimit:    wallet.Money{Value: t.DefaultCreditLimit, Currency: t.Currency},
		CreditUsed:     zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	conn, tx, err := s.beginTenantTx(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, tenant_id, currency, deposit_balance, credit_limit, credit_used, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		fresh.ID, fresh.UserID, fresh.TenantID, fresh.Currency,
		fresh.DepositBalance.Value.String(), fresh.CreditLimit.Value.String(), fresh.CreditUsed.Value.String(),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isIsolationError(err) {
			return nil, &wallet.TenantMismatchError{ContextTenant: tc.TenantID, WalletID: fresh.ID}
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &fresh, nil
}

func (s *Store) GetWalletByID(ctx context.Context, tc wallet.Context, walletID wallet.WalletID) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWalletByID(ctx, tc, walletID)
}

func (s *Store) getWalletByID(ctx context.Context, tc wallet.Context, walletID wallet.WalletID) (*wallet.Wallet, error) {
	w, err := s.queryWallet(ctx,
		"SELECT id, user_id, tenant_id, currency, deposit_balance, credit_limit, credit_used, version, created_at, updated_at FROM wallets WHERE id = ?",
		walletID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, wallet.ErrWalletNotFound
	}
	return s.verifyTenant(tc, w)
}

// verifyTenant is the application-side half of the isolation policy: every
// row leaving the store is re-checked against the resolved context.
func (s *Store) verifyTenant(tc wallet.Context, w *wallet.Wallet) (*wallet.Wallet, error) {
	if w.TenantID != tc.TenantID {
		return nil, &wallet.TenantMismatchError{
			ContextTenant: tc.TenantID,
			RowTenant:     w.TenantID,
			WalletID:      w.ID,
		}
	}
	return w, nil
}

func (s *Store) ListWallets(ctx context.Context, tc wallet.Context) ([]wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, tenant_id, currency, deposit_balance, credit_limit, credit_used, version, created_at, updated_at FROM wallets WHERE tenant_id = ? ORDER BY id",
		tc.TenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		if _, err := s.verifyTenant(tc, &w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *Store) queryWallet(ctx context.Context, query string, args ...any) (*wallet.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	w, err := scanWallet(rows)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWallet(rows *sql.Rows) (wallet.Wallet, error) {
	var (
		w                  wallet.Wallet
		deposit, limit     string
		used               string
		createdAt, updated string
	)
	err := rows.Scan(&w.ID, &w.UserID, &w.TenantID, &w.Currency,
		&deposit, &limit, &used, &w.Version, &createdAt, &updated)
	if err != nil {
		return w, fmt.Errorf("failed to scan wallet: %w", err)
	}
	w.DepositBalance = wallet.Money{Value: wallet.MustParseDecimal(deposit), Currency: w.Currency}
	w.CreditLimit = wallet.Money{Value: wallet.MustParseDecimal(limit), Currency: w.Currency}
	w.CreditUsed = wallet.Money{Value: wallet.MustParseDecimal(used), Currency: w.Currency}
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	w.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return w, nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// AppendTransaction writes the ledger row, advances the projection, and
// records the committed audit entry in one database transaction under the
// tenant scope of the resolved context.
func (s *Store) AppendTransaction(ctx context.Context, tc wallet.Context, tx wallet.Transaction, expectedVersion int64, audit wallet.AuditRecord) (*wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getWalletByID(ctx, tc, tx.WalletID); err != nil {
		return nil, err
	}

	conn, dbTx, err := s.beginTenantTx(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	defer dbTx.Rollback()

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
		(id, wallet_id, tenant_id, tx_type, amount, target, deposit_after, credit_used_after,
		 related_order_id, actor_id, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.WalletID, tx.TenantID, tx.Type,
		tx.Amount.Value.String(), nullString(string(tx.Target)),
		tx.DepositAfter.Value.String(), tx.CreditUsedAfter.Value.String(),
		nullString(tx.RelatedOrderID), nullString(tx.ActorID), nullString(tx.Reason),
		nullString(tx.IdempotencyKey), tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isIsolationError(err) {
			return nil, &wallet.TenantMismatchError{ContextTenant: tc.TenantID, RowTenant: tx.TenantID, WalletID: tx.WalletID}
		}
		if isUniqueConstraintError(err) {
			return nil, wallet.ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	tx.Seq = seq

	// Version-checked projection move: a stale version means the per-wallet
	// guard was bypassed; abort the whole unit.
	upd, err := dbTx.ExecContext(ctx, `
		UPDATE wallets
		SET deposit_balance = ?, credit_used = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		tx.DepositAfter.Value.String(), tx.CreditUsedAfter.Value.String(),
		tx.CreatedAt.Format(time.RFC3339),
		tx.WalletID, tc.TenantID, expectedVersion,
	)
	if err != nil {
		if isIsolationError(err) {
			return nil, &wallet.TenantMismatchError{ContextTenant: tc.TenantID, WalletID: tx.WalletID}
		}
		return nil, fmt.Errorf("failed to update projection: %w", err)
	}
	if n, _ := upd.RowsAffected(); n != 1 {
		return nil, wallet.ErrInternalLedger
	}

	audit.Status = wallet.AuditCommitted
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = tx.CreatedAt
	}
	if err := insertAudit(ctx, dbTx, audit); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, tc wallet.Context, walletID wallet.WalletID, cursor string, limit int) (*wallet.TransactionPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getWalletByID(ctx, tc, walletID); err != nil {
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

	query := `
		SELECT seq, id, wallet_id, tenant_id, tx_type, amount, target, deposit_after, credit_used_after,
		       related_order_id, actor_id, reason, idempotency_key, created_at
		FROM wallet_transactions
		WHERE wallet_id = ? AND tenant_id = ? AND seq < ?
		ORDER BY seq DESC
		LIMIT ?
	`
	txs, err := s.queryTransactions(ctx, tc, query, walletID, tc.TenantID, before, limit+1)
	if err != nil {
		return nil, err
	}

	page := &wallet.TransactionPage{Transactions: txs}
	if len(txs) > limit {
		page.Transactions = txs[:limit]
		page.NextCursor = strconv.FormatInt(txs[limit-1].Seq, 10)
	}
	return page, nil
}

func (s *Store) LoadHistory(ctx context.Context, tc wallet.Context, walletID wallet.WalletID) ([]wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getWalletByID(ctx, tc, walletID); err != nil {
		return nil, err
	}

	query := `
		SELECT seq, id, wallet_id, tenant_id, tx_type, amount, target, deposit_after, credit_used_after,
		       related_order_id, actor_id, reason, idempotency_key, created_at
		FROM wallet_transactions
		WHERE wallet_id = ? AND tenant_id = ?
		ORDER BY seq ASC
	`
	return s.queryTransactions(ctx, tc, query, walletID, tc.TenantID)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, tc wallet.Context, walletID wallet.WalletID, key string) (*wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getWalletByID(ctx, tc, walletID); err != nil {
		return nil, err
	}

	query := `
		SELECT seq, id, wallet_id, tenant_id, tx_type, amount, target, deposit_after, credit_used_after,
		       related_order_id, actor_id, reason, idempotency_key, created_at
		FROM wallet_transactions
		WHERE wallet_id = ? AND tenant_id = ? AND idempotency_key = ?
	`
	txs, err := s.queryTransactions(ctx, tc, query, walletID, tc.TenantID, key)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) queryTransactions(ctx context.Context, tc wallet.Context, query string, args ...any) ([]wallet.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []wallet.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		// Post-scan verification, the read half of the isolation policy.
		if tx.TenantID != tc.TenantID {
			return nil, &wallet.TenantMismatchError{
				ContextTenant: tc.TenantID,
				RowTenant:     tx.TenantID,
				WalletID:      tx.WalletID,
			}
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (wallet.Transaction, error) {
	var (
		tx             wallet.Transaction
		amount         string
		depositAfter   string
		creditAfter    string
		target         sql.NullString
		relatedOrderID sql.NullString
		actorID        sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.Seq, &tx.ID, &tx.WalletID, &tx.TenantID, &tx.Type,
		&amount, &target, &depositAfter, &creditAfter,
		&relatedOrderID, &actorID, &reason, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	// Currency lives on the wallet row; ledger rows store bare decimals.
	tx.Amount = wallet.Money{Value: wallet.MustParseDecimal(amount)}
	tx.DepositAfter = wallet.Money{Value: wallet.MustParseDecimal(depositAfter)}
	tx.CreditUsedAfter = wallet.Money{Value: wallet.MustParseDecimal(creditAfter)}
	tx.Target = wallet.AdjustTarget(target.String)
	tx.RelatedOrderID = relatedOrderID.String
	tx.ActorID = actorID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, rec wallet.AuditRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, transaction_id, wallet_id, tenant_id, actor_id, tx_type, amount,
		 deposit_before, deposit_after, credit_used_before, credit_used_after,
		 status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(string(rec.TransactionID)), rec.WalletID, rec.TenantID,
		nullString(rec.ActorID), rec.Type, rec.Amount.Value.String(),
		rec.DepositBefore.Value.String(), rec.DepositAfter.Value.String(),
		rec.CreditUsedBefore.Value.String(), rec.CreditUsedAfter.Value.String(),
		rec.Status, nullString(rec.Detail), rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// AppendFailedAttempt records a rolled-back attempt in its own unit of
// work. The record's tenant must be re-bound here: the pooled connection
// may still carry the scope of whichever tenant wrote last.
func (s *Store) AppendFailedAttempt(ctx context.Context, rec wallet.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Status = wallet.AuditFailed
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	conn, tx, err := s.beginTenantTx(ctx, rec.TenantID)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := insertAudit(ctx, tx, rec); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) QueryAudit(ctx context.Context, tc wallet.Context, filter wallet.AuditFilter) ([]wallet.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, transaction_id, wallet_id, tenant_id, actor_id, tx_type, amount,
		       deposit_before, deposit_after, credit_used_before, credit_used_after,
		       status, detail, created_at
		FROM audit_log
		WHERE tenant_id = ?
	`
	args := []any{tc.TenantID}

	if filter.WalletID != nil {
		query += " AND wallet_id = ?"
		args = append(args, *filter.WalletID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []wallet.AuditRecord
	for rows.Next() {
		var (
			rec           wallet.AuditRecord
			transactionID sql.NullString
			actorID       sql.NullString
			detail        sql.NullString
			amount        string
			depB, depA    string
			creB, creA    string
			createdAt     string
		)
		err := rows.Scan(&rec.ID, &transactionID, &rec.WalletID, &rec.TenantID, &actorID,
			&rec.Type, &amount, &depB, &depA, &creB, &creA, &rec.Status, &detail, &createdAt)
		if err != nil {
			return nil, err
		}
		if rec.TenantID != tc.TenantID {
			return nil, &wallet.TenantMismatchError{ContextTenant: tc.TenantID, RowTenant: rec.TenantID, WalletID: rec.WalletID}
		}
		rec.TransactionID = wallet.TransactionID(transactionID.String)
		rec.ActorID = actorID.String
		rec.Detail = detail.String
		rec.Amount = wallet.Money{Value: wallet.MustParseDecimal(amount)}
		rec.DepositBefore = wallet.Money{Value: wallet.MustParseDecimal(depB)}
		rec.DepositAfter = wallet.Money{Value: wallet.MustParseDecimal(depA)}
		rec.CreditUsedBefore = wallet.Money{Value: wallet.MustParseDecimal(creB)}
		rec.CreditUsedAfter = wallet.Money{Value: wallet.MustParseDecimal(creA)}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isIsolationError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "tenant isolation violation")
}
