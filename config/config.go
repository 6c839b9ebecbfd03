package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`

	// Market and venues to aggregate. Venue names must be known to the
	// provider resolver.
	Market string   `env:"MARKET" envDefault:"btc_usdt"`
	Venues []string `env:"VENUES" envDefault:"binance,kucoin" envSeparator:","`

	// Book tuning. PricePrecision is the fixed-point scale shared by every
	// venue book and the aggregate; venues quoting the same logical price
	// merge exactly at this scale.
	PricePrecision    int32         `env:"PRICE_PRECISION" envDefault:"8"`
	DiffBufferCap     int           `env:"DIFF_BUFFER_CAP" envDefault:"1024"`
	StaleVenueTimeout time.Duration `env:"STALE_VENUE_TIMEOUT" envDefault:"30s"`
	ResyncBackoffMin  time.Duration `env:"RESYNC_BACKOFF_MIN" envDefault:"250ms"`
	ResyncBackoffMax  time.Duration `env:"RESYNC_BACKOFF_MAX" envDefault:"30s"`

	Binance BinanceConfig
	Kucoin  KucoinConfig
}

type BinanceConfig struct {
	StreamEndpoint string `env:"BINANCE_STREAM_ENDPOINT" envDefault:"wss://stream.binance.com:9443/stream"`
	WSAPIEndpoint  string `env:"BINANCE_WS_API_ENDPOINT" envDefault:"wss://ws-api.binance.com:443/ws-api/v3"`
	SnapshotDepth  int    `env:"BINANCE_SNAPSHOT_DEPTH" envDefault:"1000"`
}

type KucoinConfig struct {
	BaseURL    string `env:"KUCOIN_BASE_URL" envDefault:"https://api.kucoin.com"`
	APIKey     string `env:"KUCOIN_API_KEY"`
	SecretKey  string `env:"KUCOIN_SECRET_KEY"`
	Passphrase string `env:"KUCOIN_PASSPHRASE"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.PricePrecision < 0 || cfg.PricePrecision > 12 {
		return nil, fmt.Errorf("PRICE_PRECISION must be within [0,12], got %d", cfg.PricePrecision)
	}
	return cfg, nil
}
