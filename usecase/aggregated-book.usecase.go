package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
	promclient "github.com/quantora/go-liquidity-bridge/infrastructure/prometheus"
)

const metricsPublishInterval = 5 * time.Second

type venueEntry struct {
	feed    domain.VenueFeed
	sync    *domain.VenueBookSync
	metrics *domain.VenueMetrics
	cancel  context.CancelFunc
	done    chan struct{}
}

// BookAggregator owns the aggregated book and the single delta pump
// feeding it. Venue book syncs run as independent goroutines and converge on one
// channel; the pump is the only writer path into the book besides
// RemoveVenue, so per-venue event order is preserved.
type BookAggregator struct {
	book   *domain.AggregatedOrderBook
	cfg    *config.Config
	log    zerolog.Logger
	deltas chan domain.LevelDelta

	mu     sync.Mutex
	venues map[string]*venueEntry
}

func NewBookAggregator(book *domain.AggregatedOrderBook, cfg *config.Config, log zerolog.Logger) *BookAggregator {
	return &BookAggregator{
		book:   book,
		cfg:    cfg,
		log:    log.With().Str("component", "book-aggregator").Logger(),
		deltas: make(chan domain.LevelDelta, 4096),
		venues: make(map[string]*venueEntry),
	}
}

// AddVenue attaches a feed and starts its book sync. The sync's whole
// lifecycle is bounded by ctx; RemoveVenue stops it earlier.
func (a *BookAggregator) AddVenue(ctx context.Context, feed domain.VenueFeed) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	venue := feed.Venue()
	if _, exists := a.venues[venue]; exists {
		return fmt.Errorf("venue %s already attached", venue)
	}

	metrics := domain.NewVenueMetrics(venue)
	bookSync := domain.NewVenueBookSync(feed, metrics, a.deltas, domain.VenueBookSyncConfig{
		Precision:        a.cfg.PricePrecision,
		DiffBufferCap:    a.cfg.DiffBufferCap,
		StaleAfter:       a.cfg.StaleVenueTimeout,
		ResyncBackoffMin: a.cfg.ResyncBackoffMin,
		ResyncBackoffMax: a.cfg.ResyncBackoffMax,
	}, a.log)

	venueCtx, cancel := context.WithCancel(ctx)
	entry := &venueEntry{
		feed:    feed,
		sync:    bookSync,
		metrics: metrics,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.venues[venue] = entry

	go func() {
		defer close(entry.done)
		bookSync.Run(venueCtx)
	}()

	a.log.Info().Str("venue", venue).Msg("venue attached")
	return nil
}

// RemoveVenue stops the venue's sync, waits for it to drain its clearing
// deltas, then purges any residue from the aggregate. Idempotent on
// unknown venues.
func (a *BookAggregator) RemoveVenue(venue string) error {
	a.mu.Lock()
	entry, ok := a.venues[venue]
	if ok {
		delete(a.venues, venue)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}

	entry.cancel()
	select {
	case <-entry.done:
	case <-time.After(5 * time.Second):
		a.log.Warn().Str("venue", venue).Msg("venue sync did not stop in time")
	}
	if err := entry.feed.Close(); err != nil {
		a.log.Warn().Err(err).Str("venue", venue).Msg("feed close failed")
	}

	// The sync's terminate path already emitted clearing deltas, but those
	// may still sit in the pump queue. A direct purge makes removal final.
	a.book.RemoveVenue(venue)
	a.log.Info().Str("venue", venue).Msg("venue detached")
	return nil
}

// Run drives the delta pump until ctx is cancelled. It is the sole
// consumer of the deltas channel.
func (a *BookAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(metricsPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case delta := <-a.deltas:
			a.book.Apply(delta)
			promclient.DeltasAppliedTotal.WithLabelValues(delta.Venue).Inc()
		case <-ticker.C:
			a.publishMetrics()
		}
	}
}

func (a *BookAggregator) shutdown() {
	// Terminating syncs still emit their clearing deltas; keep draining so
	// none of them block on a full channel.
	drained := make(chan struct{})
	go func() {
		for {
			select {
			case delta := <-a.deltas:
				a.book.Apply(delta)
			case <-drained:
				return
			}
		}
	}()
	defer close(drained)

	a.mu.Lock()
	venues := make([]string, 0, len(a.venues))
	for venue := range a.venues {
		venues = append(venues, venue)
	}
	a.mu.Unlock()

	for _, venue := range venues {
		if err := a.RemoveVenue(venue); err != nil {
			a.log.Warn().Err(err).Str("venue", venue).Msg("venue removal failed on shutdown")
		}
	}
}

func (a *BookAggregator) publishMetrics() {
	for _, snap := range a.VenueMetricsSnapshots() {
		promclient.PublishVenueSnapshot(snap)
	}
	promclient.PublishBookLevels(a.book.LevelCount(domain.SideBid), a.book.LevelCount(domain.SideAsk))
}

func (a *BookAggregator) Depth(n int) (bids, asks []domain.PriceLevel) {
	return a.book.GetDepth(n)
}

func (a *BookAggregator) BestBidAsk() (bid, ask domain.Price, ok bool) {
	return a.book.BestBidAskPrices()
}

func (a *BookAggregator) Spread() (domain.Price, bool) {
	return a.book.Spread()
}

func (a *BookAggregator) VenueMetricsSnapshots() []domain.VenueMetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snaps := make([]domain.VenueMetricsSnapshot, 0, len(a.venues))
	for _, entry := range a.venues {
		snaps = append(snaps, entry.metrics.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Venue < snaps[j].Venue })
	return snaps
}

// VenueStates reports each attached venue's sync state, keyed by venue.
func (a *BookAggregator) VenueStates() map[string]domain.SyncState {
	a.mu.Lock()
	defer a.mu.Unlock()

	states := make(map[string]domain.SyncState, len(a.venues))
	for venue, entry := range a.venues {
		states[venue] = entry.sync.State()
	}
	return states
}
