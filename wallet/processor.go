/*
processor.go - Validation and atomic application of wallet transactions

PURPOSE:
  The Processor is the ONLY component that writes wallet or ledger rows.
  It takes a caller Entry through the stages

    Validating -> CreditChecked -> Appended -> Audited -> Committed

  rejecting at any validation stage, and rolling the whole unit of work
  back if the append/audit stage errors. Partial ledger writes are never
  observable.

CONCURRENCY:
  The per-wallet guard is held from credit validation through commit, so
  two racing payments cannot both pass the credit check against the same
  balance. Reads do not take the guard.

IDEMPOTENCE:
  An entry whose idempotency key was already committed returns the prior
  committed transaction unchanged. Order processing supplies the order id
  as the key, so retried completion events never double-charge.

ROLE GATING:
  Admin-only operations are checked once, here, against ctx.Role, not
  re-implemented ad hoc per call site.

SEE ALSO:
  - guard.go: Per-wallet serialization
  - projector.go: Fold rules used to compute after-balances
  - ledger.go: Atomic store contract
*/
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Processor validates and applies transactions against wallets.
type Processor struct {
	store Store
	guard *Guard
	log   *logrus.Logger
}

func NewProcessor(store Store, guard *Guard, log *logrus.Logger) *Processor {
	if log == nil {
		log = logrus.New()
	}
	return &Processor{store: store, guard: guard, log: log}
}

// Store exposes the underlying store for read paths (balance queries,
// history listing). Mutations go through Apply only.
func (p *Processor) Store() Store { return p.store }

// Apply validates entry and applies it to walletID under the per-wallet
// guard. On success the committed transaction is returned; on an
// idempotency-key replay the PRIOR committed transaction is returned with
// no new ledger row.
func (p *Processor) Apply(ctx context.Context, tc Context, walletID WalletID, e Entry) (*Transaction, error) {
	// --- Validating ---------------------------------------------------------
	if err := p.validate(tc, e); err != nil {
		return nil, err
	}

	release, err := p.guard.Acquire(ctx, walletID)
	if err != nil {
		return nil, err
	}
	defer release()

	w, err := p.store.GetWalletByID(ctx, tc, walletID)
	if err != nil {
		p.logSecurityEvent(tc, walletID, err)
		return nil, err
	}

	if e.Amount.Currency != "" && e.Amount.Currency != w.Currency {
		return nil, fmt.Errorf("%w: currency %s on a %s wallet", ErrInvalidEntry, e.Amount.Currency, w.Currency)
	}
	amount := Money{Value: e.Amount.Value, Currency: w.Currency}

	if e.IdempotencyKey != "" {
		prior, err := p.store.FindByIdempotencyKey(ctx, tc, walletID, e.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			p.log.WithFields(logrus.Fields{
				"wallet_id":       walletID,
				"idempotency_key": e.IdempotencyKey,
				"transaction_id":  prior.ID,
			}).Info("idempotent replay, returning prior result")
			return prior, nil
		}
	}

	// --- CreditChecked ------------------------------------------------------
	if e.Type == TxPayment {
		available := w.SpendingPower()
		if amount.GreaterThan(available) {
			return nil, &InsufficientFundsError{
				WalletID:  walletID,
				Requested: amount,
				Available: available,
			}
		}
	}

	before := Projection{DepositBalance: w.DepositBalance, CreditUsed: w.CreditUsed}
	after, err := Advance(before, w.CreditLimit, e.Type, amount, e.Target)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, &InsufficientFundsError{
				WalletID:  walletID,
				Requested: amount,
				Available: w.SpendingPower(),
			}
		}
		return nil, err
	}

	// --- Appended / Audited / Committed -------------------------------------
	now := time.Now().UTC()
	tx := Transaction{
		ID:              TransactionID(uuid.NewString()),
		WalletID:        w.ID,
		TenantID:        w.TenantID, // always the parent wallet's tenant
		Type:            e.Type,
		Amount:          amount,
		Target:          e.Target,
		DepositAfter:    after.DepositBalance,
		CreditUsedAfter: after.CreditUsed,
		RelatedOrderID:  e.RelatedOrderID,
		ActorID:         p.actorID(tc, e),
		Reason:          e.Reason,
		IdempotencyKey:  e.IdempotencyKey,
		CreatedAt:       now,
	}

	audit := AuditRecord{
		ID:               uuid.NewString(),
		TransactionID:    tx.ID,
		WalletID:         w.ID,
		TenantID:         w.TenantID,
		ActorID:          tx.ActorID,
		Type:             tx.Type,
		Amount:           amount,
		DepositBefore:    before.DepositBalance,
		DepositAfter:     after.DepositBalance,
		CreditUsedBefore: before.CreditUsed,
		CreditUsedAfter:  after.CreditUsed,
		Status:           AuditCommitted,
		CreatedAt:        now,
	}

	committed, err := p.store.AppendTransaction(ctx, tc, tx, w.Version, audit)
	if err != nil {
		p.recordFailedAttempt(ctx, audit, err)
		p.log.WithFields(logrus.Fields{
			"wallet_id": walletID,
			"tx_type":   e.Type,
			"error":     err,
		}).Error("ledger append failed, unit of work rolled back")
		if errors.Is(err, ErrTenantMismatch) || errors.Is(err, ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalLedger, err)
	}

	p.log.WithFields(logrus.Fields{
		"wallet_id":      walletID,
		"tenant_id":      w.TenantID,
		"tx_id":          committed.ID,
		"tx_type":        committed.Type,
		"amount":         amount.Value.String(),
		"deposit_after":  committed.DepositAfter.Value.String(),
		"credit_after":   committed.CreditUsedAfter.Value.String(),
	}).Info("transaction committed")

	return committed, nil
}

// ApplyForUser resolves (tc.UserID or userID, tc.TenantID) to a wallet,
// creating it lazily, and applies the entry. Convenience for callers that
// hold a user identity rather than a wallet id (checkout, event consumer).
func (p *Processor) ApplyForUser(ctx context.Context, tc Context, userID UserID, e Entry) (*Transaction, error) {
	w, err := p.store.GetWallet(ctx, tc, userID)
	if err != nil {
		return nil, err
	}
	return p.Apply(ctx, tc, w.ID, e)
}

// VerifyWallet re-folds one wallet's ledger and reports any drift between
// the history and the stored projection.
func (p *Processor) VerifyWallet(ctx context.Context, tc Context, walletID WalletID) ([]*LedgerDriftError, error) {
	w, err := p.store.GetWalletByID(ctx, tc, walletID)
	if err != nil {
		return nil, err
	}
	history, err := p.store.LoadHistory(ctx, tc, walletID)
	if err != nil {
		return nil, err
	}
	return Verify(*w, history)
}

// =============================================================================
// VALIDATION
// =============================================================================

func (p *Processor) validate(tc Context, e Entry) error {
	switch e.Type {
	case TxDeposit, TxPayment, TxRefund:
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidEntry, e.Type)
		}
	case TxAdjustment:
		if e.Amount.IsZero() {
			return fmt.Errorf("%w: adjustment amount must be non-zero", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidEntry, e.Type)
	}

	switch e.Type {
	case TxAdjustment:
		// Manual corrections are an admin-only surface.
		if !tc.IsAdmin() {
			return ErrAdminRequired
		}
	case TxDeposit, TxRefund:
		// Deposits and refunds originate from the admin panel or internal
		// order processing, never directly from a customer session.
		if !tc.IsAdmin() && tc.Role != RoleService {
			return ErrAdminRequired
		}
	}
	return nil
}

func (p *Processor) actorID(tc Context, e Entry) string {
	if e.ActorID != "" {
		return e.ActorID
	}
	return string(tc.UserID)
}

// =============================================================================
// FAILURE RECORDING
// =============================================================================

// recordFailedAttempt writes a failed-attempt audit record after rollback.
// Best effort: a second failure here is logged, not propagated, since the
// caller already gets the append error.
func (p *Processor) recordFailedAttempt(ctx context.Context, audit AuditRecord, cause error) {
	audit.ID = uuid.NewString()
	audit.Status = AuditFailed
	audit.Detail = cause.Error()
	if err := p.store.AppendFailedAttempt(ctx, audit); err != nil {
		p.log.WithError(err).Warn("failed-attempt audit record could not be written")
	}
}

// logSecurityEvent logs cross-tenant access attempts. They are never
// silently corrected.
func (p *Processor) logSecurityEvent(tc Context, walletID WalletID, err error) {
	if !errors.Is(err, ErrTenantMismatch) {
		return
	}
	p.log.WithFields(logrus.Fields{
		"security_event": "tenant_mismatch",
		"tenant_id":      tc.TenantID,
		"user_id":        tc.UserID,
		"wallet_id":      walletID,
	}).Warn("cross-tenant access attempt rejected")
}
