/*
store.go - Persistence interface for payment instances and operations

PURPOSE:
  Extends the ledger store with the payment-side records and the
  transactional envelope settlement needs: the ledger append and the
  payment status flip must commit or fail together.

THE COMPARE-AND-SWAP:
  Settle* methods flip PENDING → PAID with a database-level conditional
  update (WHERE status = 'PENDING' AND ledger_movement_id IS NULL) and
  report whether a row actually changed. Two concurrent duplicate
  requests cannot both succeed; this must NOT be merely an
  application-level check.

SEE ALSO:
  - settlement.go: How the pieces compose inside WithTx
  - store/sqlite: Production implementation
*/
package payments

import (
	"context"
	"time"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// STORE - Ledger store + payment records + transactions
// =============================================================================

// Store is the full persistence surface for the payments side.
type Store interface {
	ledger.Store

	// --- Customer payments ---

	Payment(ctx context.Context, id string) (Payment, error)
	SavePayment(ctx context.Context, p Payment) error
	PaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]Payment, error)
	Payments(ctx context.Context) ([]Payment, error)

	// SettlePayment atomically flips PENDING → PAID, stamps DatePaid and
	// sets the write-once movement link. Returns false when the payment
	// was not PENDING (the CAS found nothing to update).
	SettlePayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error)

	// --- Operator payments ---

	OperatorPayment(ctx context.Context, id string) (OperatorPayment, error)
	SaveOperatorPayment(ctx context.Context, p OperatorPayment) error
	OperatorPaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]OperatorPayment, error)
	OperatorPayments(ctx context.Context) ([]OperatorPayment, error)
	SettleOperatorPayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error)

	// --- Expense obligations ---

	Expense(ctx context.Context, id string) (ExpenseObligation, error)
	SaveExpense(ctx context.Context, e ExpenseObligation) error
	Expenses(ctx context.Context) ([]ExpenseObligation, error)
	SettleExpense(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error)

	// --- Operations (read model, owned elsewhere) ---

	Operation(ctx context.Context, id ledger.OperationID) (Operation, error)
	Operations(ctx context.Context) ([]Operation, error)
	SaveOperation(ctx context.Context, op Operation) error

	// WithTx executes fn within a transaction. If fn returns an error,
	// the transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
