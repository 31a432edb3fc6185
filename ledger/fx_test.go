package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/ledger/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRateFor_ExactDate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, date(2025, time.June, 10), ledger.MustDecimal("1180"))
	s.SaveRate(ctx, date(2025, time.June, 11), ledger.MustDecimal("1195"))

	r := &ledger.Resolver{Rates: s}
	rate, err := r.RateFor(ctx, date(2025, time.June, 11))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(ledger.MustDecimal("1195")) {
		t.Errorf("expected 1195, got %v", rate)
	}
}

func TestRateFor_FallsBackToLatestBefore(t *testing.T) {
	// GIVEN: Rates for Friday, nothing for the weekend
	// WHEN: Resolving Sunday
	// THEN: Friday's rate is used

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, date(2025, time.June, 6), ledger.MustDecimal("1150"))

	r := &ledger.Resolver{Rates: s}
	rate, err := r.RateFor(ctx, date(2025, time.June, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(ledger.MustDecimal("1150")) {
		t.Errorf("expected 1150, got %v", rate)
	}
}

func TestRateFor_NothingRecorded_FxUnavailable(t *testing.T) {
	r := &ledger.Resolver{Rates: store.NewMemory()}

	_, err := r.RateFor(context.Background(), date(2025, time.June, 8))
	if !errors.Is(err, ledger.ErrFxUnavailable) {
		t.Fatalf("expected ErrFxUnavailable, got %v", err)
	}
	var fxErr *ledger.FxUnavailableError
	if !errors.As(err, &fxErr) {
		t.Fatalf("expected *FxUnavailableError, got %T", err)
	}
	if fxErr.Date != "2025-06-08" {
		t.Errorf("expected date 2025-06-08 in error, got %q", fxErr.Date)
	}
}

func TestWithOverride_AnswersEveryLookupWithoutTouchingStore(t *testing.T) {
	// GIVEN: A stored rate and an override
	// WHEN: Resolving through the derived resolver
	// THEN: The override answers; the stored rate is unchanged

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, date(2025, time.June, 10), ledger.MustDecimal("1180"))

	base := &ledger.Resolver{Rates: s}
	derived := base.WithOverride(ledger.MustDecimal("1300"))

	rate, err := derived.RateFor(ctx, date(2025, time.June, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(ledger.MustDecimal("1300")) {
		t.Errorf("expected override 1300, got %v", rate)
	}

	// Base resolver still reads the store.
	rate, _ = base.RateFor(ctx, date(2025, time.June, 10))
	if !rate.Equal(ledger.MustDecimal("1180")) {
		t.Errorf("expected stored 1180, got %v", rate)
	}
}

// failingRates always errors; it simulates a dead rate backend.
type failingRates struct{}

func (failingRates) SaveRate(context.Context, time.Time, decimal.Decimal) error {
	return errors.New("backend down")
}
func (failingRates) RateOn(context.Context, time.Time) (decimal.Decimal, bool, error) {
	return decimal.Decimal{}, false, errors.New("backend down")
}
func (failingRates) LatestRateBefore(context.Context, time.Time) (decimal.Decimal, bool, error) {
	return decimal.Decimal{}, false, errors.New("backend down")
}

// slowRates stalls exact lookups past any deadline but still answers
// the latest-known fallback, mimicking a flaky primary source.
type slowRates struct {
	latest decimal.Decimal
}

func (s slowRates) SaveRate(context.Context, time.Time, decimal.Decimal) error { return nil }

func (s slowRates) RateOn(ctx context.Context, _ time.Time) (decimal.Decimal, bool, error) {
	<-ctx.Done()
	return decimal.Decimal{}, false, ctx.Err()
}

func (s slowRates) LatestRateBefore(context.Context, time.Time) (decimal.Decimal, bool, error) {
	return s.latest, true, nil
}

func TestRateForOrLatest_DegradesToLatestKnownOnTimeout(t *testing.T) {
	// GIVEN: A rate source that stalls past the lookup timeout
	// WHEN: Settlement resolves a rate
	// THEN: The latest known rate is used instead of blocking the payment

	r := &ledger.Resolver{
		Rates:   slowRates{latest: ledger.MustDecimal("1210")},
		Timeout: 10 * time.Millisecond,
	}
	rate, err := r.RateForOrLatest(context.Background(), date(2025, time.June, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Equal(ledger.MustDecimal("1210")) {
		t.Errorf("expected latest 1210, got %v", rate)
	}
}

func TestRateForOrLatest_NoRateAtAll_InsufficientData(t *testing.T) {
	r := &ledger.Resolver{Rates: failingRates{}, Timeout: 10 * time.Millisecond}

	_, err := r.RateForOrLatest(context.Background(), date(2025, time.June, 10))
	if !errors.Is(err, ledger.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
