/*
debt.go - Receivables/payables rollups

PURPOSE:
  Answers "who owes us what" (accounts receivable, per customer) and
  "what do we owe operators" (accounts payable), always derived fresh
  from operations and PAID payments - never from stored debt rows.

THE DEBT FORMULA:
  debt(operation) = max(0, sale_amount_total
                         - sum of PAID payments in the sale currency)

  The payable side is symmetric over operator_cost and operator
  payments. Debt is non-increasing as PAID payments accumulate and is
  never negative (over-collection clamps to zero).

FILTERS:
  Date range (due date), seller, currency and customer-substring filters
  are applied over this projection, not over raw rows, so debt figures
  are always freshly derived.

SEE ALSO:
  - position/compiler.go: Consumes these totals for the balance sheet
*/
package payments

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	Store Store
}

// Debt returns the outstanding receivable for one operation, in the
// operation's sale currency. Never negative.
func (a *Aggregator) Debt(ctx context.Context, operationID ledger.OperationID) (decimal.Decimal, error) {
	op, err := a.Store.Operation(ctx, operationID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	pays, err := a.Store.PaymentsByOperation(ctx, operationID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return receivableDebt(op, pays), nil
}

// PayableDebt returns the outstanding payable for one operation, in the
// operator-cost currency. Never negative.
func (a *Aggregator) PayableDebt(ctx context.Context, operationID ledger.OperationID) (decimal.Decimal, error) {
	op, err := a.Store.Operation(ctx, operationID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	pays, err := a.Store.OperatorPaymentsByOperation(ctx, operationID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return payableDebt(op, pays), nil
}

func receivableDebt(op Operation, pays []Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range pays {
		if p.Status == StatusPaid && p.Currency == op.SaleCurrency {
			paid = paid.Add(p.Amount)
		}
	}
	return clampZero(ledger.RoundMoney(op.SaleAmountTotal.Sub(paid)))
}

func payableDebt(op Operation, pays []OperatorPayment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range pays {
		if p.Status == StatusPaid && p.Currency == op.OperatorCostCurrency {
			paid = paid.Add(p.Amount)
		}
	}
	return clampZero(ledger.RoundMoney(op.OperatorCost.Sub(paid)))
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// GROUPED VIEWS - per customer / per operator
// =============================================================================

// Filters narrow the debtor/creditor projections. Zero values mean
// "no filter".
type Filters struct {
	From          *time.Time // a payment due on/after
	To            *time.Time // a payment due on/before
	SellerID      string
	Currency      ledger.Currency
	CustomerQuery string // case-insensitive substring on customer name
	AgencyID      string
}

func (f Filters) matchesOperation(op Operation) bool {
	if f.SellerID != "" && op.SellerID != f.SellerID {
		return false
	}
	if f.AgencyID != "" && op.AgencyID != f.AgencyID {
		return false
	}
	return true
}

// matchesDueRange reports whether any of the operation's due dates
// falls inside [From, To]. The range filters on when money is due, not
// on when the operation was created. An operation with no scheduled
// payments has no due dates and drops out of a date-ranged query.
func (f Filters) matchesDueRange(dues []time.Time) bool {
	if f.From == nil && f.To == nil {
		return true
	}
	for _, due := range dues {
		if f.From != nil && due.Before(*f.From) {
			continue
		}
		if f.To != nil && due.After(*f.To) {
			continue
		}
		return true
	}
	return false
}

// OperationDebt is one operation's contribution inside a grouped view.
type OperationDebt struct {
	OperationID ledger.OperationID
	FileCode    string
	Destination string
	Currency    ledger.Currency
	Debt        decimal.Decimal
}

// Debtor is a customer with outstanding receivables. Totals are split
// by currency: operations sell in either unit and the two must never be
// summed implicitly.
type Debtor struct {
	Customer   Customer
	TotalARS   decimal.Decimal
	TotalUSD   decimal.Decimal
	Operations []OperationDebt
}

// Creditor is an operator the agency owes.
type Creditor struct {
	OperatorID string
	TotalARS   decimal.Decimal
	TotalUSD   decimal.Decimal
	Operations []OperationDebt
}

// Debtors groups outstanding receivables per customer across their
// operations. Operations without debt are dropped; customers are
// returned sorted by name for stable output.
func (a *Aggregator) Debtors(ctx context.Context, f Filters) ([]Debtor, error) {
	ops, err := a.Store.Operations(ctx)
	if err != nil {
		return nil, err
	}

	byCustomer := map[string]*Debtor{}
	for _, op := range ops {
		if !f.matchesOperation(op) {
			continue
		}
		if f.Currency != "" && op.SaleCurrency != f.Currency {
			continue
		}
		pays, err := a.Store.PaymentsByOperation(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		dues := make([]time.Time, 0, len(pays))
		for _, p := range pays {
			dues = append(dues, p.DateDue)
		}
		if !f.matchesDueRange(dues) {
			continue
		}
		debt := receivableDebt(op, pays)
		if debt.IsZero() {
			continue
		}
		entry := OperationDebt{
			OperationID: op.ID,
			FileCode:    op.FileCode,
			Destination: op.Destination,
			Currency:    op.SaleCurrency,
			Debt:        debt,
		}
		for _, c := range op.Customers {
			if f.CustomerQuery != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.CustomerQuery)) {
				continue
			}
			d, ok := byCustomer[c.ID]
			if !ok {
				d = &Debtor{Customer: c}
				byCustomer[c.ID] = d
			}
			switch op.SaleCurrency {
			case ledger.USD:
				d.TotalUSD = d.TotalUSD.Add(debt)
			default:
				d.TotalARS = d.TotalARS.Add(debt)
			}
			d.Operations = append(d.Operations, entry)
		}
	}

	debtors := make([]Debtor, 0, len(byCustomer))
	for _, d := range byCustomer {
		debtors = append(debtors, *d)
	}
	sort.Slice(debtors, func(i, j int) bool {
		return debtors[i].Customer.Name < debtors[j].Customer.Name
	})
	return debtors, nil
}

// Creditors groups outstanding payables per operator.
func (a *Aggregator) Creditors(ctx context.Context, f Filters) ([]Creditor, error) {
	ops, err := a.Store.Operations(ctx)
	if err != nil {
		return nil, err
	}

	byOperator := map[string]*Creditor{}
	for _, op := range ops {
		if !f.matchesOperation(op) {
			continue
		}
		if op.OperatorID == "" {
			continue
		}
		if f.Currency != "" && op.OperatorCostCurrency != f.Currency {
			continue
		}
		pays, err := a.Store.OperatorPaymentsByOperation(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		dues := make([]time.Time, 0, len(pays))
		for _, p := range pays {
			dues = append(dues, p.DateDue)
		}
		if !f.matchesDueRange(dues) {
			continue
		}
		debt := payableDebt(op, pays)
		if debt.IsZero() {
			continue
		}
		c, ok := byOperator[op.OperatorID]
		if !ok {
			c = &Creditor{OperatorID: op.OperatorID}
			byOperator[op.OperatorID] = c
		}
		switch op.OperatorCostCurrency {
		case ledger.USD:
			c.TotalUSD = c.TotalUSD.Add(debt)
		default:
			c.TotalARS = c.TotalARS.Add(debt)
		}
		c.Operations = append(c.Operations, OperationDebt{
			OperationID: op.ID,
			FileCode:    op.FileCode,
			Destination: op.Destination,
			Currency:    op.OperatorCostCurrency,
			Debt:        debt,
		})
	}

	creditors := make([]Creditor, 0, len(byOperator))
	for _, c := range byOperator {
		creditors = append(creditors, *c)
	}
	sort.Slice(creditors, func(i, j int) bool {
		return creditors[i].OperatorID < creditors[j].OperatorID
	})
	return creditors, nil
}

// PendingExpenses sums unpaid expense obligations, split by currency.
func (a *Aggregator) PendingExpenses(ctx context.Context, agencyID string) (ars, usd decimal.Decimal, count int, err error) {
	expenses, err := a.Store.Expenses(ctx)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, 0, err
	}
	ars, usd = decimal.Zero, decimal.Zero
	for _, e := range expenses {
		if e.Status != StatusPending {
			continue
		}
		if agencyID != "" && e.AgencyID != agencyID {
			continue
		}
		switch e.Currency {
		case ledger.USD:
			usd = usd.Add(e.Amount)
		default:
			ars = ars.Add(e.Amount)
		}
		count++
	}
	return ledger.RoundMoney(ars), ledger.RoundMoney(usd), count, nil
}
