package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int32(8), cfg.PricePrecision)
	assert.Equal(t, []string{"binance", "kucoin"}, cfg.Venues)
	assert.Equal(t, 1024, cfg.DiffBufferCap)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRICE_PRECISION", "2")
	t.Setenv("VENUES", "binance")
	t.Setenv("STALE_VENUE_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.PricePrecision)
	assert.Equal(t, []string{"binance"}, cfg.Venues)
	assert.Equal(t, "5s", cfg.StaleVenueTimeout.String())
}

func TestLoadRejectsAbsurdPrecision(t *testing.T) {
	t.Setenv("PRICE_PRECISION", "30")
	_, err := Load()
	assert.Error(t, err)
}
