/*
fx.go - Exchange-rate resolution

PURPOSE:
  Supplies the ARS-per-USD rate for a given date. The regulatory rule is
  "use the prior business day's official rate, never a future one": the
  resolver returns the rate recorded for the requested date when known,
  otherwise the latest rate on or before it.

OVERRIDES:
  A caller may supply a manual override rate for exploratory
  re-denomination ("what would this look like entirely in ARS"). The
  override lives only in the derived resolver returned by WithOverride;
  the exchange_rate captured on a movement is immutable history and a
  display override must never rewrite it.

TIMEOUTS:
  Lookups are capped with a short timeout. A late-arriving rate must
  not block a settlement: RateForOrLatest degrades to the latest known
  rate instead of failing, and only reports ErrInsufficientData when no
  rate exists at all.

SEE ALSO:
  - store.go: RateStore interface
  - jobs/fxsync.go: Scheduled rate ingestion
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Rates RateStore

	// Timeout caps each store lookup. Zero means no cap.
	Timeout time.Duration

	// override, when set, answers every lookup. Set only via
	// WithOverride; the zero Resolver always consults the store.
	override *decimal.Decimal
}

// WithOverride returns a copy of the resolver that answers every lookup
// with the given rate. Used for what-if re-denomination; the original
// resolver and all stored rates are untouched.
func (r *Resolver) WithOverride(rate decimal.Decimal) *Resolver {
	return &Resolver{Rates: r.Rates, Timeout: r.Timeout, override: &rate}
}

// RateFor returns the rate for the date: exact match first, then the
// latest rate on or before it. Returns a *FxUnavailableError wrapped
// around ErrFxUnavailable when nothing qualifies.
func (r *Resolver) RateFor(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	if r.override != nil {
		return *r.override, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	day := truncateToDay(date)
	rate, ok, err := r.Rates.RateOn(ctx, day)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if ok {
		return rate, nil
	}
	rate, ok, err = r.Rates.LatestRateBefore(ctx, day)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ok {
		return decimal.Decimal{}, &FxUnavailableError{Date: day.Format("2006-01-02")}
	}
	return rate, nil
}

// RateForOrLatest is the settlement-path lookup: it degrades to the
// latest known rate on timeout or FX unavailability rather than
// blocking a cash operation, and fails with ErrInsufficientData only
// when no rate is known at all.
func (r *Resolver) RateForOrLatest(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	rate, err := r.RateFor(ctx, date)
	if err == nil {
		return rate, nil
	}
	if r.override != nil {
		return *r.override, nil
	}

	// Fallback without the caller's (possibly expired) deadline.
	fbCtx, cancel := r.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	latest, ok, lerr := r.Rates.LatestRateBefore(fbCtx, truncateToDay(time.Now().UTC()))
	if lerr == nil && ok {
		return latest, nil
	}
	return decimal.Decimal{}, ErrInsufficientData
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
