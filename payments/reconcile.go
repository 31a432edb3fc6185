/*
reconcile.go - Consistency sweep over the settlement links

PURPOSE:
  Settlement keeps movements and payment rows 1:1 inside a transaction,
  but an audit-grade system still checks. The sweep looks for two
  inconsistencies:

  1. ORPHANED MOVEMENT: a movement carrying a settlement idempotency
     key with no payment row pointing back at it. This is the footprint
     of a status flip that failed after the ledger write.
  2. DANGLING LINK: a payment marked PAID whose LedgerMovementID is
     empty or points at no movement.

  Findings are surfaced as operator-visible warnings, NEVER
  auto-corrected - silently fabricating a compensating entry could
  misstate the audit trail.

SEE ALSO:
  - settlement.go: The transaction the sweep double-checks
  - jobs/reconcile.go: Scheduled execution
*/
package payments

import (
	"context"
	"strings"
	"time"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Store Store
}

// Report is the outcome of one sweep. Empty slices mean a clean run.
type Report struct {
	RanAt            time.Time
	CheckedMovements int
	CheckedPayments  int
	Orphans          []ledger.OrphanedMovementError
	Dangling         []ledger.DanglingPaymentLinkError
}

func (r Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Dangling) == 0
}

// Sweep inspects all settlement-produced movements and all PAID payment
// rows and reports every broken link.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	report := Report{RanAt: time.Now().UTC()}

	movements, err := r.Store.AllMovementsInRange(ctx, time.Time{}, report.RanAt)
	if err != nil {
		return report, err
	}

	linked := map[ledger.MovementID]bool{}
	collect := func(id ledger.MovementID) {
		if id != "" {
			linked[id] = true
		}
	}

	pays, err := r.Store.Payments(ctx)
	if err != nil {
		return report, err
	}
	opPays, err := r.Store.OperatorPayments(ctx)
	if err != nil {
		return report, err
	}
	expenses, err := r.Store.Expenses(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range pays {
		collect(p.LedgerMovementID)
	}
	for _, p := range opPays {
		collect(p.LedgerMovementID)
	}
	for _, e := range expenses {
		collect(e.LedgerMovementID)
	}

	byID := map[ledger.MovementID]bool{}
	for _, m := range movements {
		byID[m.ID] = true
		if !isSettlementMovement(m) {
			continue
		}
		report.CheckedMovements++
		if !linked[m.ID] {
			report.Orphans = append(report.Orphans, ledger.OrphanedMovementError{
				MovementID:  m.ID,
				OperationID: m.OperationID,
				Amount:      m.AmountOriginal,
				Currency:    m.Currency,
			})
		}
	}

	checkPaid := func(id string, status Status, movementID ledger.MovementID) {
		if status != StatusPaid {
			return
		}
		report.CheckedPayments++
		if movementID == "" || !byID[movementID] {
			report.Dangling = append(report.Dangling, ledger.DanglingPaymentLinkError{
				PaymentID:  id,
				MovementID: movementID,
			})
		}
	}
	for _, p := range pays {
		checkPaid(p.ID, p.Status, p.LedgerMovementID)
	}
	for _, p := range opPays {
		checkPaid(p.ID, p.Status, p.LedgerMovementID)
	}
	for _, e := range expenses {
		checkPaid(e.ID, e.Status, e.LedgerMovementID)
	}

	return report, nil
}

// isSettlementMovement recognizes movements produced by the settlement
// service through their idempotency key prefix. Manually appended
// movements are outside the 1:1 discipline and are not checked.
func isSettlementMovement(m ledger.Movement) bool {
	return strings.HasPrefix(m.IdempotencyKey, "payment-") ||
		strings.HasPrefix(m.IdempotencyKey, "operator-payment-") ||
		strings.HasPrefix(m.IdempotencyKey, "expense-")
}
