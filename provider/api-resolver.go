// Package provider maps venue names to their feed implementations.
package provider

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
	"github.com/quantora/go-liquidity-bridge/provider/binance"
	"github.com/quantora/go-liquidity-bridge/provider/kucoin"
)

type Resolver struct {
	cfg *config.Config
	log zerolog.Logger
}

func NewResolver(cfg *config.Config, log zerolog.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: log}
}

// Resolve constructs a live feed for the named venue. Each call opens
// fresh connections; the caller owns the feed's lifecycle.
func (r *Resolver) Resolve(venue string, symbol *domain.MarketSymbol) (domain.VenueFeed, error) {
	switch venue {
	case binance.VenueName:
		return binance.NewFeed(r.cfg.Binance, symbol, r.log)
	case kucoin.VenueName:
		return kucoin.NewFeed(r.cfg.Kucoin, symbol, r.log)
	default:
		return nil, fmt.Errorf("unknown venue %q", venue)
	}
}
