/*
Package wallet provides the multi-tenant wallet and transaction ledger core.

PURPOSE:
  This package contains the types and algorithms for tracking a monetary
  balance per (user, tenant) pair: deposits, payments, refunds and admin
  adjustments, applied atomically against an append-only ledger with a
  maintained balance projection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary quantity with a currency (decimal, never float)
  - Wallet: The projection row, a cached fold of a wallet's ledger
  - Transaction: An immutable ledger entry recording one balance change
  - Entry: A caller-supplied request to apply one transaction
  - Context: The resolved (user, tenant, role) identity every call carries

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never edited, corrections are new
     adjustment transactions
  2. Precision: decimal.Decimal for all money, no floating point
  3. Ledger as truth: the Wallet row is a projection; replaying the ledger
     must reproduce it exactly
  4. Explicit identity: tenant and user always travel as a Context
     parameter, never ambient state

SEE ALSO:
  - projector.go: Balance fold rules per transaction type
  - ledger.go: Store interface and audit records
  - processor.go: Validation and atomic application
*/
package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary quantity with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool          { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }
func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

func (m Money) Max(b Money) Money {
	if m.GreaterThan(b) {
		return m
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TenantID string
type WalletID string
type TransactionID string

// =============================================================================
// TENANT CONTEXT - Resolved identity, passed explicitly everywhere
// =============================================================================

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleService  Role = "service" // internal callers (order processing)
)

// Context is the resolved (user, tenant, role) identity. It is built once
// by the resolver in context.go and threaded through every operation as an
// explicit parameter. No function in this module reads tenant identity from
// anywhere but its Context argument.
type Context struct {
	UserID   UserID
	TenantID TenantID
	Role     Role
}

func (c Context) IsAdmin() bool { return c.Role == RoleAdmin }

// =============================================================================
// WALLET - Projection row, cached fold of the ledger
// =============================================================================

// Wallet is the current-state projection for one (user, tenant) pair.
// It is maintained by the store in the same atomic unit of work as every
// ledger append; it is never the source of truth, the ledger is.
//
// Invariants:
//   - DepositBalance >= 0 (shortfalls draw from credit, never negative)
//   - 0 <= CreditUsed <= CreditLimit
//   - Currency is fixed by the tenant
type Wallet struct {
	ID       WalletID
	UserID   UserID
	TenantID TenantID
	Currency Currency

	DepositBalance Money
	CreditLimit    Money
	CreditUsed     Money

	// Version increases by one per committed transaction. Used as the
	// optimistic-concurrency token on the projection row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailableCredit returns CreditLimit - CreditUsed.
func (w Wallet) AvailableCredit() Money {
	return w.CreditLimit.Sub(w.CreditUsed)
}

// SpendingPower returns the maximum payment the wallet can cover:
// deposit balance plus remaining credit.
func (w Wallet) SpendingPower() Money {
	return w.DepositBalance.Add(w.AvailableCredit())
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"    // Funds added to deposit balance
	TxPayment    TransactionType = "payment"    // Checkout charge (deposit first, then credit)
	TxRefund     TransactionType = "refund"     // Returned funds (clears credit first)
	TxAdjustment TransactionType = "adjustment" // Manual admin correction, signed
)

// AdjustTarget selects which balance a signed adjustment applies to.
type AdjustTarget string

const (
	TargetDeposit AdjustTarget = "deposit"
	TargetCredit  AdjustTarget = "credit"
)

// Transaction is one committed ledger row. Append-only, never mutated.
//
// DepositAfter/CreditUsedAfter snapshot the projection at commit time, which
// makes the ledger self-verifying: folding the deltas must reproduce every
// stored after-balance (see projector.go Verify).
type Transaction struct {
	ID       TransactionID
	WalletID WalletID

	// TenantID always equals the parent wallet's tenant. It is denormalized
	// onto the row so the store-level isolation policy can check it without
	// a join, and it is never independently settable by callers.
	TenantID TenantID

	Type   TransactionType
	Amount Money
	Target AdjustTarget // adjustments only, empty otherwise

	DepositAfter    Money
	CreditUsedAfter Money

	RelatedOrderID string
	ActorID        string
	Reason         string
	IdempotencyKey string

	// Seq is a store-assigned monotonic sequence, the basis for the
	// stateless listing cursor.
	Seq       int64
	CreatedAt time.Time
}

// Entry is a caller-supplied request to apply one transaction to a wallet.
// The processor validates it, assigns IDs and after-balances, and turns it
// into a committed Transaction.
type Entry struct {
	Type           TransactionType
	Amount         Money
	Target         AdjustTarget
	RelatedOrderID string
	ActorID        string
	Reason         string
	IdempotencyKey string
}

// =============================================================================
// TENANT - Registry row with per-tenant wallet defaults
// =============================================================================

// Tenant configures wallet defaults for one storefront. Wallets are created
// lazily on first access with the tenant's currency and default credit limit.
type Tenant struct {
	ID                 TenantID
	Name               string
	Currency           Currency
	DefaultCreditLimit decimal.Decimal
	CreatedAt          time.Time
}

// =============================================================================
// TRANSACTION PAGE - Cursor-based listing result
// =============================================================================

// DefaultPageSize bounds history pages when the caller gives no limit.
const DefaultPageSize = 50

// TransactionPage is one page of a wallet's history, newest first.
// NextCursor is opaque and stateless; empty means no further pages.
type TransactionPage struct {
	Transactions []Transaction
	NextCursor   string
}
