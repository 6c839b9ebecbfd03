// Package rpc exposes the aggregated book over HTTP.
package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/usecase"
)

type Server struct {
	agg       *usecase.BookAggregator
	precision int32
	log       zerolog.Logger
	http      *http.Server
}

func NewServer(addr string, agg *usecase.BookAggregator, precision int32, log zerolog.Logger) *Server {
	s := &Server{
		agg:       agg,
		precision: precision,
		log:       log.With().Str("component", "rpc").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/book/depth", s.handleBookDepth)
		r.Get("/book/bba", s.handleBookBBA)
		r.Get("/venues/metrics", s.handleVenueMetrics)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
