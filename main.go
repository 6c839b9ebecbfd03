package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
	"github.com/quantora/go-liquidity-bridge/infrastructure/logger"
	promclient "github.com/quantora/go-liquidity-bridge/infrastructure/prometheus"
	"github.com/quantora/go-liquidity-bridge/provider"
	"github.com/quantora/go-liquidity-bridge/rpc"
	"github.com/quantora/go-liquidity-bridge/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	symbol, err := domain.NewMarketSymbolFromString(cfg.Market)
	if err != nil {
		log.Fatal().Err(err).Str("market", cfg.Market).Msg("invalid market")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book := domain.NewAggregatedOrderBook(cfg.PricePrecision, log)
	aggregator := usecase.NewBookAggregator(book, cfg, log)
	resolver := provider.NewResolver(cfg, log)

	for _, venue := range cfg.Venues {
		feed, err := resolver.Resolve(venue, symbol)
		if err != nil {
			log.Fatal().Err(err).Str("venue", venue).Msg("venue feed setup failed")
		}
		if err := aggregator.AddVenue(ctx, feed); err != nil {
			log.Fatal().Err(err).Str("venue", venue).Msg("venue attach failed")
		}
	}

	go promclient.StartServer(cfg.MetricsAddr, log)

	server := rpc.NewServer(cfg.HTTPAddr, aggregator, cfg.PricePrecision, log)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	log.Info().
		Str("market", symbol.String()).
		Strs("venues", cfg.Venues).
		Msg("liquidity bridge started")

	aggregator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("liquidity bridge stopped")
}
