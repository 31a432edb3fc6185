/*
balance.go - Balance as a pure projection over the movement log

PURPOSE:
  Computes an account's balance from initial balance + the signed sum of
  its movements. This is the single derivation path shared by every
  surface (cash summary, debts, monthly position) so displayed figures
  cannot drift from each other.

THE SIGNED SUM:
  balance = initial_balance + sum(signed_amount(m)) over the account's
  movements, where the magnitude is the movement's contribution in the
  account's native currency:
    - ARS account: AmountARSEquivalent (ARS accounts always settle in
      ARS-equivalent terms, even for originally-USD movements)
    - USD account: AmountOriginal for USD movements, ARS equivalent
      divided by the captured rate otherwise
  and the sign is + for INCOME/FX_GAIN, - for EXPENSE/OPERATOR_PAYMENT/
  FX_LOSS/COMMISSION.

ALGORITHMIC PROPERTY:
  The sum is commutative and associative - balance is independent of
  insertion order, which makes concurrent appends safe without locking.

WHY RECOMPUTE ON EVERY READ?
  A cached "current_balance" field can drift from missed increment or
  decrement bugs. A projection cannot. Read cost is traded for
  correctness; any caching layer is an invalidate-on-write optimization,
  never a second source of truth.

SEE ALSO:
  - ledger.go: The movement log being projected
  - position/compiler.go: Aggregates these balances per period
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

type BalanceCalculator struct {
	Store Store
}

// Balance computes the account's current balance from its full history.
func (bc *BalanceCalculator) Balance(ctx context.Context, accountID AccountID) (decimal.Decimal, error) {
	account, err := bc.Store.Account(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	movements, err := bc.Store.Movements(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Sum(account, movements), nil
}

// BalanceAsOf computes the balance considering only movements created
// on or before the cutoff. Used by the monthly position compiler.
func (bc *BalanceCalculator) BalanceAsOf(ctx context.Context, accountID AccountID, cutoff time.Time) (decimal.Decimal, error) {
	account, err := bc.Store.Account(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	movements, err := bc.Store.MovementsInRange(ctx, accountID, time.Time{}, cutoff)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Sum(account, movements), nil
}

// Sum folds the signed movement amounts onto the initial balance.
// Pure function: order of the slice does not affect the result.
func Sum(account FinancialAccount, movements []Movement) decimal.Decimal {
	balance := account.InitialBalance
	for _, m := range movements {
		balance = balance.Add(m.SignedAmount(account.Currency))
	}
	return RoundMoney(balance)
}
