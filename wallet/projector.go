/*
projector.go - Balance projection: the fold from ledger to wallet state

PURPOSE:
  Defines how each transaction type moves the (depositBalance, creditUsed)
  pair. The wallet row is nothing but this fold cached; balance is NEVER
  derived by scanning orders or any other entity type.

FOLD RULES (per transaction type):
  deposit     depositBalance += amount
  payment     deposit part   = min(amount, depositBalance), paid first;
              remainder drawn from credit: creditUsed += remainder
  refund      credit cleared first: creditUsed -= min(amount, creditUsed);
              remainder returned to deposit
  adjustment  signed amount applied to the targeted balance
              (deposit by default, creditUsed when Target == credit)

INVARIANTS HELD AT EVERY STEP:
  - depositBalance >= 0
  - 0 <= creditUsed <= creditLimit

SELF-VERIFICATION:
  Every committed transaction stores DepositAfter/CreditUsedAfter. Verify
  replays a wallet's full history and checks both every stored after-balance
  and the final projection row. Any mismatch is ledger drift and reported,
  never silently corrected.

SEE ALSO:
  - processor.go: Calls Advance while holding the per-wallet guard
  - api/scheduler.go: Runs Verify periodically across all wallets
*/
package wallet

// Projection is the pair of balances the fold advances.
type Projection struct {
	DepositBalance Money
	CreditUsed     Money
}

// Advance applies a single transaction to a projection and returns the new
// projection. creditLimit bounds creditUsed; amount conventions follow the
// fold rules above.
//
// Errors:
//   - ErrInsufficientFunds: payment beyond spending power, or an adjustment
//     that would drive depositBalance below zero
//   - ErrInvalidEntry: adjustment that would leave creditUsed outside
//     [0, creditLimit], or an unknown transaction type
func Advance(p Projection, creditLimit Money, typ TransactionType, amount Money, target AdjustTarget) (Projection, error) {
	switch typ {
	case TxDeposit:
		p.DepositBalance = p.DepositBalance.Add(amount)
		return p, nil

	case TxPayment:
		fromDeposit := amount.Min(p.DepositBalance)
		remainder := amount.Sub(fromDeposit)
		newUsed := p.CreditUsed.Add(remainder)
		if newUsed.GreaterThan(creditLimit) {
			return p, ErrInsufficientFunds
		}
		p.DepositBalance = p.DepositBalance.Sub(fromDeposit)
		p.CreditUsed = newUsed
		return p, nil

	case TxRefund:
		fromCredit := amount.Min(p.CreditUsed)
		p.CreditUsed = p.CreditUsed.Sub(fromCredit)
		p.DepositBalance = p.DepositBalance.Add(amount.Sub(fromCredit))
		return p, nil

	case TxAdjustment:
		if target == TargetCredit {
			newUsed := p.CreditUsed.Add(amount)
			if newUsed.IsNegative() || newUsed.GreaterThan(creditLimit) {
				return p, ErrInvalidEntry
			}
			p.CreditUsed = newUsed
			return p, nil
		}
		newDeposit := p.DepositBalance.Add(amount)
		if newDeposit.IsNegative() {
			return p, ErrInsufficientFunds
		}
		p.DepositBalance = newDeposit
		return p, nil

	default:
		return p, ErrInvalidEntry
	}
}

// Replay folds an ordered (oldest first) transaction history from a zero
// projection and returns the resulting balances.
func Replay(currency Currency, creditLimit Money, txs []Transaction) (Projection, error) {
	p := Projection{
		DepositBalance: Money{Value: MustParseDecimal("0"), Currency: currency},
		CreditUsed:     Money{Value: MustParseDecimal("0"), Currency: currency},
	}
	for _, tx := range txs {
		next, err := Advance(p, creditLimit, tx.Type, tx.Amount, tx.Target)
		if err != nil {
			return p, err
		}
		p = next
	}
	return p, nil
}

// Verify replays a wallet's full ordered history and checks that
//  1. every transaction's stored after-balances match the fold at that point
//  2. the final fold matches the wallet projection row
//
// Returns all drifts found; an empty slice means the ledger and projection
// agree exactly.
func Verify(w Wallet, txs []Transaction) ([]*LedgerDriftError, error) {
	p := Projection{
		DepositBalance: w.DepositBalance.Zero(),
		CreditUsed:     w.CreditUsed.Zero(),
	}

	var drifts []*LedgerDriftError
	for _, tx := range txs {
		next, err := Advance(p, w.CreditLimit, tx.Type, tx.Amount, tx.Target)
		if err != nil {
			return drifts, err
		}
		p = next

		if !p.DepositBalance.Equal(tx.DepositAfter) {
			drifts = append(drifts, &LedgerDriftError{
				WalletID: w.ID, TransactionID: tx.ID, Field: "deposit",
				Expected: p.DepositBalance, Stored: tx.DepositAfter,
			})
		}
		if !p.CreditUsed.Equal(tx.CreditUsedAfter) {
			drifts = append(drifts, &LedgerDriftError{
				WalletID: w.ID, TransactionID: tx.ID, Field: "credit_used",
				Expected: p.CreditUsed, Stored: tx.CreditUsedAfter,
			})
		}
	}

	if !p.DepositBalance.Equal(w.DepositBalance) {
		drifts = append(drifts, &LedgerDriftError{
			WalletID: w.ID, Field: "deposit",
			Expected: p.DepositBalance, Stored: w.DepositBalance,
		})
	}
	if !p.CreditUsed.Equal(w.CreditUsed) {
		drifts = append(drifts, &LedgerDriftError{
			WalletID: w.ID, Field: "credit_used",
			Expected: p.CreditUsed, Stored: w.CreditUsed,
		})
	}
	return drifts, nil
}
