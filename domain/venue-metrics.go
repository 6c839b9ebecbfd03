package domain

import (
	"sync"
	"time"
)

// VenueMetrics is a passive observation tap over one venue's event stream.
// It never gates the sync path: writers take a short mutex, readers copy a
// snapshot, nothing blocks on I/O.
type VenueMetrics struct {
	mu sync.Mutex

	venue             string
	updatesProcessed  uint64
	reconnects        uint64
	resyncs           uint64
	malformedMessages uint64
	lastLatency       time.Duration
	avgLatencyMs      float64
	lastUpdateTime    time.Time
	bestBid           Price
	bestAsk           Price
}

// VenueMetricsSnapshot is the read-only view handed to callers.
type VenueMetricsSnapshot struct {
	Venue             string        `json:"venue"`
	UpdatesProcessed  uint64        `json:"updates_processed"`
	Reconnects        uint64        `json:"reconnects"`
	Resyncs           uint64        `json:"resyncs"`
	MalformedMessages uint64        `json:"malformed_messages"`
	LastUpdateLatency time.Duration `json:"last_update_latency"`
	AvgUpdateLatency  float64       `json:"avg_update_latency_ms"`
	LastUpdateTime    time.Time     `json:"last_update_time"`
	BestBid           Price         `json:"best_bid"`
	BestAsk           Price         `json:"best_ask"`
}

func NewVenueMetrics(venue string) *VenueMetrics {
	return &VenueMetrics{venue: venue}
}

// ObserveUpdate records one processed event and its latency (receive time
// minus venue-reported event time; pass zero when unavailable).
func (m *VenueMetrics) ObserveUpdate(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := float64(latency.Microseconds()) / 1000.0
	m.avgLatencyMs = (m.avgLatencyMs*float64(m.updatesProcessed) + ms) /
		(float64(m.updatesProcessed) + 1)
	m.updatesProcessed++
	m.lastLatency = latency
	m.lastUpdateTime = time.Now()
}

func (m *VenueMetrics) ObserveReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *VenueMetrics) ObserveResync() {
	m.mu.Lock()
	m.resyncs++
	m.mu.Unlock()
}

func (m *VenueMetrics) ObserveMalformed(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.malformedMessages += uint64(n)
	m.mu.Unlock()
}

// SetBestBidAsk caches the venue's own top of book for display; it is
// diagnostic state, independent of the aggregate.
func (m *VenueMetrics) SetBestBidAsk(bid, ask Price) {
	m.mu.Lock()
	m.bestBid, m.bestAsk = bid, ask
	m.mu.Unlock()
}

func (m *VenueMetrics) Snapshot() VenueMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return VenueMetricsSnapshot{
		Venue:             m.venue,
		UpdatesProcessed:  m.updatesProcessed,
		Reconnects:        m.reconnects,
		Resyncs:           m.resyncs,
		MalformedMessages: m.malformedMessages,
		LastUpdateLatency: m.lastLatency,
		AvgUpdateLatency:  m.avgLatencyMs,
		LastUpdateTime:    m.lastUpdateTime,
		BestBid:           m.bestBid,
		BestAsk:           m.bestAsk,
	}
}
