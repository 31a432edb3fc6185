package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/altiplano/finance-engine/payments"
)

// ReconcileSweep runs the ledger consistency sweep and logs what it
// finds. Findings are surfaced for a human; nothing is auto-corrected.
type ReconcileSweep struct {
	Reconciler *payments.Reconciler
	Timeout    time.Duration
	Log        zerolog.Logger

	// OnReport, when set, receives every report. Used to feed an
	// alerting hook without coupling the job to one.
	OnReport func(payments.Report)
}

func (j *ReconcileSweep) Name() string { return "reconcile-sweep" }

func (j *ReconcileSweep) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := j.Reconciler.Sweep(ctx)
	if err != nil {
		return err
	}

	if j.OnReport != nil {
		j.OnReport(report)
	}

	if report.Clean() {
		j.Log.Info().
			Int("movements", report.CheckedMovements).
			Int("payments", report.CheckedPayments).
			Msg("Ledger consistency sweep clean")
		return nil
	}

	for _, o := range report.Orphans {
		j.Log.Warn().
			Str("movement_id", string(o.MovementID)).
			Str("operation_id", string(o.OperationID)).
			Str("amount", o.Amount.String()).
			Str("currency", string(o.Currency)).
			Msg("Orphaned settlement movement")
	}
	for _, d := range report.Dangling {
		j.Log.Warn().
			Str("payment_id", d.PaymentID).
			Str("movement_id", string(d.MovementID)).
			Msg("Paid obligation with dangling ledger link")
	}

	j.Log.Warn().
		Int("orphans", len(report.Orphans)).
		Int("dangling", len(report.Dangling)).
		Msg("Ledger consistency sweep found issues")
	return nil
}
