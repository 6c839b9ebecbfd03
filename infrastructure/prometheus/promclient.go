package promclient

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/domain"
)

var (
	DeltasAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregate_deltas_applied_total",
		Help: "Level deltas folded into the aggregated order book, by venue",
	}, []string{"venue"})

	VenueUpdatesProcessed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_updates_processed",
		Help: "Feed events processed per venue",
	}, []string{"venue"})
	VenueReconnects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_reconnects",
		Help: "Feed reconnects per venue",
	}, []string{"venue"})
	VenueResyncs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_resyncs",
		Help: "Book resyncs (gaps, disconnects, stalls) per venue",
	}, []string{"venue"})
	VenueMalformedMessages = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_malformed_messages",
		Help: "Malformed price levels dropped per venue",
	}, []string{"venue"})
	VenueUpdateLatencyMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_update_latency_ms",
		Help: "Last observed update latency per venue (receive minus event time)",
	}, []string{"venue"})
	VenueStalenessMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_staleness_ms",
		Help: "Milliseconds since the venue's last processed event",
	}, []string{"venue"})

	BookLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aggregate_book_levels",
		Help: "Price levels currently held by the aggregated book, by side",
	}, []string{"side"})
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		DeltasAppliedTotal,
		VenueUpdatesProcessed,
		VenueReconnects,
		VenueResyncs,
		VenueMalformedMessages,
		VenueUpdateLatencyMs,
		VenueStalenessMs,
		BookLevels,
		collectors.NewGoCollector(),
	)
	return reg
}

// PublishVenueSnapshot mirrors a venue's metrics tap into the exported
// gauges. Called periodically by the aggregator's watchdog.
func PublishVenueSnapshot(snap domain.VenueMetricsSnapshot) {
	VenueUpdatesProcessed.WithLabelValues(snap.Venue).Set(float64(snap.UpdatesProcessed))
	VenueReconnects.WithLabelValues(snap.Venue).Set(float64(snap.Reconnects))
	VenueResyncs.WithLabelValues(snap.Venue).Set(float64(snap.Resyncs))
	VenueMalformedMessages.WithLabelValues(snap.Venue).Set(float64(snap.MalformedMessages))
	VenueUpdateLatencyMs.WithLabelValues(snap.Venue).Set(float64(snap.LastUpdateLatency.Microseconds()) / 1000.0)
	if !snap.LastUpdateTime.IsZero() {
		VenueStalenessMs.WithLabelValues(snap.Venue).Set(float64(time.Since(snap.LastUpdateTime).Milliseconds()))
	}
}

func PublishBookLevels(bids, asks int) {
	BookLevels.WithLabelValues("bid").Set(float64(bids))
	BookLevels.WithLabelValues("ask").Set(float64(asks))
}

func StartServer(addr string, log zerolog.Logger) {
	reg := NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Info().Str("addr", addr).Msg("prometheus server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("prometheus server stopped")
	}
}
