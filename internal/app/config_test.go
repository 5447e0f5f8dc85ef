package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-stock/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 720*time.Hour, cfg.AlertExpiryHorizon)
	require.Equal(t, "*/15 * * * *", cfg.AlertScanCron)
	require.False(t, cfg.IsProduction())
	require.True(t, InTestMode())
}

func TestLoadConfigLedgerSettings(t *testing.T) {
	t.Setenv("STOCK_ALLOW_NEGATIVE", "true")
	t.Setenv("STOCK_NEGATIVE_LOCATIONS", "3,7")
	t.Setenv("ALERT_SLOW_MOVING_WINDOW", "240h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	ledger := cfg.Ledger()
	require.True(t, ledger.AllowNegativeStock)
	require.Equal(t, []int64{3, 7}, ledger.NegativeStockLocations)
	require.Equal(t, 240*time.Hour, ledger.Alerts.SlowMovingWindow)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("STOCK_NEGATIVE_LOCATIONS", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STOCK_NEGATIVE_LOCATIONS", "")
	t.Setenv("ALERT_EXPIRY_HORIZON", "0s")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNilConfigLedger(t *testing.T) {
	var cfg *Config
	require.False(t, cfg.IsProduction())
	require.False(t, cfg.Ledger().AllowNegativeStock)
}
