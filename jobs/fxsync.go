package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
)

// RateProvider fetches the official ARS-per-USD rate for a date from an
// external source. Implementations wrap whichever market data feed the
// deployment uses.
type RateProvider interface {
	FetchRate(ctx context.Context, date time.Time) (decimal.Decimal, error)
}

// RateProviderFunc adapts a function to the RateProvider interface.
type RateProviderFunc func(ctx context.Context, date time.Time) (decimal.Decimal, error)

func (f RateProviderFunc) FetchRate(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	return f(ctx, date)
}

// FXSync pulls today's exchange rate from the provider and stores it.
// Rates are stored once per calendar date; weekends and holidays simply
// produce no new row and the resolver falls back to the latest known
// rate.
type FXSync struct {
	Provider RateProvider
	Rates    ledger.RateStore
	Timeout  time.Duration
	Log      zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (j *FXSync) Name() string { return "fx-sync" }

func (j *FXSync) Run() error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	today := now().UTC().Truncate(24 * time.Hour)
	rate, err := j.Provider.FetchRate(ctx, today)
	if err != nil {
		return err
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		j.Log.Warn().
			Str("rate", rate.String()).
			Time("date", today).
			Msg("Provider returned non-positive rate, skipping")
		return nil
	}

	if err := j.Rates.SaveRate(ctx, today, rate); err != nil {
		return err
	}

	j.Log.Info().
		Str("rate", rate.String()).
		Time("date", today).
		Msg("Exchange rate synced")
	return nil
}
