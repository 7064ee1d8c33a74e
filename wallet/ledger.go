/*
ledger.go - Persistence contract for the ledger, projection and audit log

PURPOSE:
  Defines the interface between the wallet engine and the data store. One
  Store owns three concerns that must commit together: the append-only
  transaction ledger, the wallet projection row, and the audit log.

APPEND-ONLY CONTRACT:
  The ledger and the audit log have no update and no delete operations.
  Corrections are new adjustment transactions; audit records are retained
  indefinitely, including across administrative corrections.

ATOMICITY:
  AppendTransaction writes the ledger row, moves the projection, and writes
  the committed audit record in ONE unit of work. A failure anywhere rolls
  the whole unit back: no ledger entry without its audit record, no
  projection move without its ledger entry.

TENANT ISOLATION:
  Every method takes the resolved Context. Implementations must reject rows
  whose tenant does not match, and the sqlite store additionally enforces
  this inside the database itself (see store/sqlite), so a future query that
  forgets a tenant filter is still blocked.

IMPLEMENTATIONS:
  - store/sqlite: production store, database-enforced isolation
  - wallet/store: in-memory store for tests and dev

SEE ALSO:
  - processor.go: The only writer of wallet and ledger rows
  - projector.go: Fold rules the after-balances are computed with
*/
package wallet

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Ledger + projection + audit, committed together
// =============================================================================

// Store handles persistence for wallets, their ledgers and the audit log.
// The ledger and audit log are APPEND-ONLY: no update, no delete, ever.
type Store interface {
	// GetWallet looks a wallet up by (userID, tc.TenantID), creating it
	// lazily with a zero balance and the tenant's default credit limit when
	// absent. Fails with ErrTenantNotFound if the tenant is unregistered.
	GetWallet(ctx context.Context, tc Context, userID UserID) (*Wallet, error)

	// GetWalletByID loads a wallet by id. Fails with ErrWalletNotFound when
	// the id does not exist, and TenantMismatchError when it exists under a
	// different tenant than tc.
	GetWalletByID(ctx context.Context, tc Context, walletID WalletID) (*Wallet, error)

	// ListWallets returns all wallets of tc's tenant. Admin surface; used by
	// the ledger verifier.
	ListWallets(ctx context.Context, tc Context) ([]Wallet, error)

	// AppendTransaction inserts one immutable ledger row, advances the
	// wallet projection to the transaction's after-balances, and writes the
	// committed audit record, all in one atomic unit of work.
	//
	// expectedVersion is the projection version the caller computed against;
	// a mismatch aborts with ErrInternalLedger (the guard makes this
	// unreachable in correct use). The returned Transaction carries the
	// store-assigned Seq and CreatedAt.
	AppendTransaction(ctx context.Context, tc Context, tx Transaction, expectedVersion int64, audit AuditRecord) (*Transaction, error)

	// ListTransactions returns one page of a wallet's history, newest
	// first. The cursor is stateless and opaque; empty starts from the
	// latest entry.
	ListTransactions(ctx context.Context, tc Context, walletID WalletID, cursor string, limit int) (*TransactionPage, error)

	// LoadHistory returns a wallet's complete history, oldest first.
	// Used by Verify to re-fold the ledger.
	LoadHistory(ctx context.Context, tc Context, walletID WalletID) ([]Transaction, error)

	// FindByIdempotencyKey returns the committed transaction previously
	// applied with this key on this wallet, or nil when unseen.
	FindByIdempotencyKey(ctx context.Context, tc Context, walletID WalletID, key string) (*Transaction, error)

	// SaveTenant registers or updates a tenant's wallet defaults.
	SaveTenant(ctx context.Context, t Tenant) error

	// GetTenant returns a tenant registry row, or ErrTenantNotFound.
	GetTenant(ctx context.Context, id TenantID) (*Tenant, error)

	// ListTenants returns all registered tenants.
	ListTenants(ctx context.Context) ([]Tenant, error)

	AuditLog
}

// =============================================================================
// AUDIT LOG - Who moved which balance, before and after
// =============================================================================

type AuditStatus string

const (
	AuditCommitted AuditStatus = "committed"
	AuditFailed    AuditStatus = "failed" // attempt rolled back, recorded best-effort
)

// AuditRecord captures one transaction attempt with before/after balances
// and the acting identity. Committed records are written atomically with
// their ledger row; failed-attempt records are written after rollback.
type AuditRecord struct {
	ID            string
	TransactionID TransactionID
	WalletID      WalletID
	TenantID      TenantID
	ActorID       string

	Type   TransactionType
	Amount Money

	DepositBefore    Money
	DepositAfter     Money
	CreditUsedBefore Money
	CreditUsedAfter  Money

	Status    AuditStatus
	Detail    string // failure reason for failed attempts
	CreatedAt time.Time
}

// AuditLog is the append-only audit store. Never deleted, never rewritten.
type AuditLog interface {
	// AppendFailedAttempt records a rolled-back attempt. Best-effort: it
	// runs outside the failed unit of work.
	AppendFailedAttempt(ctx context.Context, rec AuditRecord) error

	// QueryAudit returns audit records of tc's tenant matching the filter,
	// newest first.
	QueryAudit(ctx context.Context, tc Context, filter AuditFilter) ([]AuditRecord, error)
}

type AuditFilter struct {
	WalletID *WalletID
	ActorID  *string
	Status   *AuditStatus
	Limit    int
}
