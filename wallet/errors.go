/*
errors.go - Centralized error types for the wallet engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the api package maps these
  onto HTTP status codes.

ERROR CATEGORIES:
  1. Identity errors  - Unauthenticated sessions, cross-tenant access
  2. Validation errors - Bad amounts, insufficient funds
  3. Concurrency errors - Guard timeouts
  4. Ledger errors    - Failures inside the atomic append/audit unit

SEE ALSO:
  - processor.go: Produces most of these
  - api/handlers.go: Maps them to HTTP responses
*/
package wallet

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when no valid session is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTenantMismatch is returned on any cross-tenant access attempt.
	// Always fatal, always logged as a security event, never silently
	// corrected.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrWalletNotFound is returned when a wallet id does not exist in the
	// caller's tenant.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTenantNotFound is returned when the tenant registry has no row for
	// the resolved tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInsufficientFunds is returned when a payment exceeds
	// depositBalance + (creditLimit - creditUsed). Recoverable: the caller
	// may retry with a smaller amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockTimeout is returned when a mutation could not acquire the
	// per-wallet guard within the bounded wait. Recoverable via retry.
	ErrLockTimeout = errors.New("wallet lock timeout")

	// ErrDuplicateTransaction is returned internally when an idempotency key
	// was already committed. The processor resolves it by returning the
	// prior committed result, so callers normally never see it.
	ErrDuplicateTransaction = errors.New("duplicate idempotency key")

	// ErrInvalidEntry is returned for malformed entries (zero or negative
	// amount, unknown type, currency mismatch).
	ErrInvalidEntry = errors.New("invalid transaction entry")

	// ErrInvalidCursor is returned when a pagination cursor cannot be
	// parsed. Cursors are opaque to callers; only values handed out in
	// NextCursor are valid.
	ErrInvalidCursor = errors.New("invalid pagination cursor")

	// ErrAdminRequired is returned when a non-admin context attempts an
	// admin-only operation (adjustments, manual deposits/refunds).
	ErrAdminRequired = errors.New("admin role required")

	// ErrInternalLedger is returned for any failure inside the atomic
	// append/projection/audit unit of work. The whole unit rolls back;
	// no partial state is ever observable.
	ErrInternalLedger = errors.New("internal ledger error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a payment that exceeds spending power.
type InsufficientFundsError struct {
	WalletID  WalletID
	Requested Money
	Available Money // deposit + remaining credit
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %v, available %v (wallet %s)",
		e.Requested.Value, e.Available.Value, e.WalletID)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// TenantMismatchError details a cross-tenant access attempt. The processor
// logs these as security events before returning them.
type TenantMismatchError struct {
	ContextTenant TenantID
	RowTenant     TenantID
	WalletID      WalletID
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch: context tenant %q, row tenant %q (wallet %s)",
		e.ContextTenant, e.RowTenant, e.WalletID)
}

func (e *TenantMismatchError) Unwrap() error { return ErrTenantMismatch }

// LockTimeoutError details a guard acquisition that exceeded its bound.
type LockTimeoutError struct {
	WalletID WalletID
	Waited   string // human-readable wait duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("wallet %s: lock not acquired within %s", e.WalletID, e.Waited)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// LedgerDriftError is reported by Verify when replaying a wallet's ledger
// does not reproduce the stored projection or a stored after-balance.
type LedgerDriftError struct {
	WalletID      WalletID
	TransactionID TransactionID // empty when the projection row itself drifted
	Field         string        // "deposit" or "credit_used"
	Expected      Money
	Stored        Money
}

func (e *LedgerDriftError) Error() string {
	where := "projection"
	if e.TransactionID != "" {
		where = "transaction " + string(e.TransactionID)
	}
	return fmt.Sprintf("ledger drift on wallet %s (%s): %s expected %v, stored %v",
		e.WalletID, where, e.Field, e.Expected.Value, e.Stored.Value)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrInternalLedger)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, ErrAdminRequired)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWalletNotFound) || errors.Is(err, ErrTenantNotFound)
}
