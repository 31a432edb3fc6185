/*
settlement.go - The PENDING → PAID state machine

PURPOSE:
  Settling a payment is THE critical transactional operation of the
  engine: it creates exactly one ledger movement and flips the payment
  to PAID, atomically.

THE TRANSITION (mark paid):
  1. Reject with AlreadyPaidError if the payment is already PAID. The
     second call must not create a second movement or double-count.
  2. Append one movement (INCOME for a customer payment,
     OPERATOR_PAYMENT for an operator payment, EXPENSE for an expense
     obligation) with the payment's amount and currency. The ARS
     equivalent is the amount itself for ARS, or amount x rate via the
     FX resolver for USD, with the rate captured on the movement.
  3. Flip status = PAID, stamp DatePaid, set the write-once
     LedgerMovementID.

  Steps 2-3 run inside Store.WithTx so both commit or neither does. The
  status flip is a database-level compare-and-swap, so two concurrent
  duplicate requests (a user double-clicking "mark paid") cannot both
  succeed even before the idempotency key on the movement is checked.

ORPHANS:
  If the process dies between the ledger write and the commit, nothing
  is visible. If a partial commit ever produces a movement without a
  payment pointing back, the reconciliation sweep surfaces it; it is
  never silently discarded or retried automatically.

FX DEGRADATION:
  A late-arriving official rate must not block cash operations: the
  resolver falls back to the latest known rate. Settlement fails with
  ErrInsufficientData only when no rate is known at all.

SEE ALSO:
  - reconcile.go: Orphan/dangling-link detection
  - ledger/fx.go: Rate resolution and fallback
*/
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// SETTLEMENT SERVICE
// =============================================================================

type SettlementService struct {
	Store Store
	FX    *ledger.Resolver

	// Now is the clock; tests override it. Nil means time.Now.
	Now func() time.Time
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// MarkPaymentPaid settles a customer payment into the given account,
// creating one INCOME movement. Returns the movement ID.
func (s *SettlementService) MarkPaymentPaid(ctx context.Context, paymentID string, accountID ledger.AccountID, actor string) (ledger.MovementID, error) {
	p, err := s.Store.Payment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if p.Status == StatusPaid {
		return "", &ledger.AlreadyPaidError{PaymentID: p.ID, MovementID: p.LedgerMovementID}
	}

	m, err := s.buildMovement(ctx, ledger.MovementIncome, accountID, p.Amount, p.Currency, actor, movementRefs{
		operationID: p.OperationID,
		concept:     "payment " + p.ID,
		idemKey:     "payment-" + p.ID,
	})
	if err != nil {
		return "", err
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		return settleInTx(ctx, tx, m, func(tx Store) (bool, error) {
			return tx.SettlePayment(ctx, p.ID, m.ID, s.now())
		}, p.ID)
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// MarkOperatorPaymentPaid settles a payable to an operator, creating
// one OPERATOR_PAYMENT movement against the paying account.
func (s *SettlementService) MarkOperatorPaymentPaid(ctx context.Context, operatorPaymentID string, accountID ledger.AccountID, actor string) (ledger.MovementID, error) {
	p, err := s.Store.OperatorPayment(ctx, operatorPaymentID)
	if err != nil {
		return "", err
	}
	if p.Status == StatusPaid {
		return "", &ledger.AlreadyPaidError{PaymentID: p.ID, MovementID: p.LedgerMovementID}
	}

	m, err := s.buildMovement(ctx, ledger.MovementOperatorPayment, accountID, p.Amount, p.Currency, actor, movementRefs{
		operationID: p.OperationID,
		operatorID:  p.OperatorID,
		concept:     "operator payment " + p.ID,
		idemKey:     "operator-payment-" + p.ID,
	})
	if err != nil {
		return "", err
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		return settleInTx(ctx, tx, m, func(tx Store) (bool, error) {
			return tx.SettleOperatorPayment(ctx, p.ID, m.ID, s.now())
		}, p.ID)
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// MarkExpensePaid settles a non-operator expense obligation, creating
// one EXPENSE movement.
func (s *SettlementService) MarkExpensePaid(ctx context.Context, expenseID string, accountID ledger.AccountID, actor string) (ledger.MovementID, error) {
	e, err := s.Store.Expense(ctx, expenseID)
	if err != nil {
		return "", err
	}
	if e.Status == StatusPaid {
		return "", &ledger.AlreadyPaidError{PaymentID: e.ID, MovementID: e.LedgerMovementID}
	}

	m, err := s.buildMovement(ctx, ledger.MovementExpense, accountID, e.Amount, e.Currency, actor, movementRefs{
		concept: e.Concept,
		idemKey: "expense-" + e.ID,
	})
	if err != nil {
		return "", err
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		return settleInTx(ctx, tx, m, func(tx Store) (bool, error) {
			return tx.SettleExpense(ctx, e.ID, m.ID, s.now())
		}, e.ID)
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

type movementRefs struct {
	operationID ledger.OperationID
	operatorID  string
	concept     string
	idemKey     string
}

// buildMovement assembles the single movement a settlement appends. The
// ARS equivalent and the exchange rate are computed here, before the
// transaction opens, so a slow FX lookup never holds a database
// transaction. A rate is captured whenever a conversion is in play:
// USD amounts always (for the ARS equivalent), and ARS amounts landing
// on a USD account (so the USD leg stays derivable).
func (s *SettlementService) buildMovement(ctx context.Context, typ ledger.MovementType, accountID ledger.AccountID, amount decimal.Decimal, currency ledger.Currency, actor string, refs movementRefs) (ledger.Movement, error) {
	amount = ledger.RoundMoney(amount)
	m := ledger.Movement{
		ID:             ledger.MovementID(uuid.NewString()),
		Type:           typ,
		Concept:        refs.concept,
		Currency:       currency,
		AmountOriginal: amount,
		AccountID:      accountID,
		OperationID:    refs.operationID,
		OperatorID:     refs.operatorID,
		CreatedBy:      actor,
		CreatedAt:      s.now(),
		IdempotencyKey: refs.idemKey,
	}

	account, err := s.Store.Account(ctx, accountID)
	if err != nil {
		return ledger.Movement{}, err
	}

	if currency == ledger.ARS {
		m.AmountARSEquivalent = amount
		if account.Currency == ledger.USD {
			rate, err := s.FX.RateForOrLatest(ctx, s.now())
			if err != nil {
				return ledger.Movement{}, err
			}
			m.ExchangeRate = &rate
		}
		return m, nil
	}

	rate, err := s.FX.RateForOrLatest(ctx, s.now())
	if err != nil {
		return ledger.Movement{}, err
	}
	m.ExchangeRate = &rate
	m.AmountARSEquivalent = ledger.RoundMoney(amount.Mul(rate))
	return m, nil
}

// settleInTx appends the movement and flips the status inside one
// transaction. A failed CAS means a concurrent settlement won: the
// whole transaction rolls back, leaving no orphaned movement behind.
func settleInTx(ctx context.Context, tx Store, m ledger.Movement, cas func(Store) (bool, error), paymentID string) error {
	account, err := tx.Account(ctx, m.AccountID)
	if err != nil {
		return err
	}
	if !account.IsActive {
		return ledger.ErrAccountInactive
	}
	if err := ledger.Validate(m, account); err != nil {
		return err
	}
	if err := tx.Append(ctx, m); err != nil {
		return err
	}
	flipped, err := cas(tx)
	if err != nil {
		return err
	}
	if !flipped {
		return &ledger.AlreadyPaidError{PaymentID: paymentID}
	}
	return nil
}
