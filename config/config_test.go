package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "finance.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.FXTimeout)
	assert.Equal(t, "0 9 * * 1-5", cfg.FXSyncSchedule)
	assert.Equal(t, "info", cfg.LogLevel)

	capital, err := cfg.Capital()
	require.NoError(t, err)
	assert.True(t, capital.IsZero())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FINANCE_PORT", "9090")
	t.Setenv("FINANCE_DB_PATH", ":memory:")
	t.Setenv("FINANCE_CAPITAL_USD", "50000")
	t.Setenv("FINANCE_CORS_ORIGINS", "https://crm.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, []string{"https://crm.example.com"}, cfg.CORSOrigins)

	capital, err := cfg.Capital()
	require.NoError(t, err)
	assert.Equal(t, "50000", capital.String())
}

func TestLoad_InvalidCapital_Rejected(t *testing.T) {
	t.Setenv("FINANCE_CAPITAL_USD", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FINANCE_CAPITAL_USD")
}
