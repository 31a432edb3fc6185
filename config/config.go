/*
config.go - Environment-driven configuration

PURPOSE:
  Loads server configuration from the environment (optionally seeded
  from a .env file in development). Every knob has a default so the
  binary runs with zero configuration.

VARIABLES (prefix FINANCE_):
  FINANCE_PORT                HTTP port (default 8080)
  FINANCE_DB_PATH             SQLite path, ":memory:" for ephemeral
  FINANCE_CAPITAL_USD         Contributed capital for the position report
  FINANCE_FX_TIMEOUT          Cap on FX rate lookups (default 5s)
  FINANCE_FX_SYNC_SCHEDULE    Cron spec for the daily rate sync
  FINANCE_RECONCILE_SCHEDULE  Cron spec for the ledger consistency sweep
  FINANCE_CORS_ORIGINS        Allowed browser origins
  FINANCE_LOG_LEVEL           zerolog level (debug, info, warn, error)

SEE ALSO:
  - cmd/server/main.go: the only consumer
  - jobs/scheduler.go: uses the cron specs
*/
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all server settings.
type Config struct {
	Port   int    `envconfig:"PORT" default:"8080"`
	DBPath string `envconfig:"DB_PATH" default:"finance.db"`

	// Contributed capital, in USD, for the patrimonio neto section.
	CapitalUSD string `envconfig:"CAPITAL_USD" default:"0"`

	FXTimeout         time.Duration `envconfig:"FX_TIMEOUT" default:"5s"`
	FXSyncSchedule    string        `envconfig:"FX_SYNC_SCHEDULE" default:"0 9 * * 1-5"`
	ReconcileSchedule string        `envconfig:"RECONCILE_SCHEDULE" default:"30 2 * * *"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment. A .env file is
// honored when present and silently skipped when not.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("FINANCE", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process configuration: %w", err)
	}
	if _, err := cfg.Capital(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Capital parses CapitalUSD into a decimal.
func (c Config) Capital() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.CapitalUSD)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid FINANCE_CAPITAL_USD %q: %w", c.CapitalUSD, err)
	}
	return d, nil
}
