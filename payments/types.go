/*
Package payments implements the receivable/payable side of the engine:
customer payments, operator payments and expense obligations, their
PENDING → PAID state machine, debt aggregation and reconciliation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Payment: a scheduled customer receivable instance for an operation
  - OperatorPayment: a scheduled payable to a tour operator
  - ExpenseObligation: an unpaid non-operator expense (rent, services)
  - Operation: the read-only source of truth for "how much is expected"

THE WRITE-ONCE LINK:
  Each settled instance points at exactly one ledger movement via
  LedgerMovementID, set exactly once at settlement. The link is 1:1 and
  write-once; the movement itself never points forward.

SEE ALSO:
  - settlement.go: The PENDING → PAID transition
  - debt.go: Receivables/payables rollups
*/
package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// STATUS - PENDING → PAID, terminal
// =============================================================================

// Status of a payment instance. PAID is terminal: there is no modeled
// reversal. Any correction is an external compensating movement.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

type PayerType string

const (
	PayerCustomer PayerType = "CUSTOMER"
	PayerAgency   PayerType = "AGENCY"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type Method string

const (
	MethodCash     Method = "CASH"
	MethodTransfer Method = "TRANSFER"
	MethodCard     Method = "CARD"
	MethodCheck    Method = "CHECK"
)

// =============================================================================
// PAYMENT - Customer-facing receivable instance
// =============================================================================

type Payment struct {
	ID          string
	OperationID ledger.OperationID
	PayerType   PayerType
	Direction   Direction
	Method      Method
	Amount      decimal.Decimal
	Currency    ledger.Currency
	DateDue     time.Time
	DatePaid    *time.Time
	Status      Status

	// LedgerMovementID is set exactly once on settlement. 1:1 with the
	// INCOME movement created by MarkPaymentPaid.
	LedgerMovementID ledger.MovementID

	CreatedAt time.Time
}

// =============================================================================
// OPERATOR PAYMENT - Payable instance
// =============================================================================

type OperatorPayment struct {
	ID          string
	OperatorID  string
	OperationID ledger.OperationID
	Amount      decimal.Decimal
	Currency    ledger.Currency
	DateDue     time.Time
	DatePaid    *time.Time
	Status      Status
	PaidAmount  decimal.Decimal

	// Same write-once-link discipline as Payment.
	LedgerMovementID ledger.MovementID

	CreatedAt time.Time
}

// =============================================================================
// EXPENSE OBLIGATION - Unpaid non-operator expense ("gastos a pagar")
// =============================================================================

// ExpenseObligation is modeled the same way as a payable but without an
// operator link. Settling one produces an EXPENSE movement.
type ExpenseObligation struct {
	ID       string
	Concept  string
	Amount   decimal.Decimal
	Currency ledger.Currency
	DateDue  time.Time
	DatePaid *time.Time
	Status   Status
	AgencyID string

	LedgerMovementID ledger.MovementID

	CreatedAt time.Time
}

// =============================================================================
// OPERATION - External collaborator, read-only to this core
// =============================================================================

// Operation carries the sale/cost figures this engine consumes. The
// core never writes to an operation; it is owned by the operations
// subsystem.
type Operation struct {
	ID                   ledger.OperationID
	FileCode             string
	Destination          string
	SaleAmountTotal      decimal.Decimal
	SaleCurrency         ledger.Currency
	OperatorCost         decimal.Decimal
	OperatorCostCurrency ledger.Currency
	OperatorID           string
	SellerID             string
	AgencyID             string
	Customers            []Customer
	CreatedAt            time.Time
}

// Customer is a linked counterparty on an operation.
type Customer struct {
	ID   string
	Name string
}
