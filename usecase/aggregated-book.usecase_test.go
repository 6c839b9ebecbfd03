package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
	"github.com/quantora/go-liquidity-bridge/provider/sim"
)

func testConfig() *config.Config {
	return &config.Config{
		PricePrecision:   2,
		DiffBufferCap:    16,
		ResyncBackoffMin: time.Nanosecond,
		ResyncBackoffMax: time.Nanosecond,
	}
}

func startAggregator(t *testing.T) (*BookAggregator, context.Context) {
	t.Helper()

	book := domain.NewAggregatedOrderBook(2, zerolog.Nop())
	agg := NewBookAggregator(book, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go agg.Run(ctx)
	return agg, ctx
}

func mustPrice(t *testing.T, s string) domain.Price {
	t.Helper()
	p, err := domain.ParsePrice(s, 2)
	require.NoError(t, err)
	return p
}

func TestAggregatorMergesTwoVenues(t *testing.T) {
	agg, ctx := startAggregator(t)

	alpha := sim.NewFeed("alpha", domain.SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.10", "1"}},
	})
	beta := sim.NewFeed("beta", domain.SnapshotEvent{
		LastUpdateID: 50,
		Bids:         [][]string{{"100.00", "3"}},
		Asks:         [][]string{{"100.20", "5"}},
	})

	require.NoError(t, agg.AddVenue(ctx, alpha))
	require.NoError(t, agg.AddVenue(ctx, beta))

	require.Eventually(t, func() bool {
		bids, _ := agg.Depth(1)
		return len(bids) == 1 && bids[0].Size() == 5
	}, time.Second, 5*time.Millisecond)

	bids, asks := agg.Depth(10)
	require.Len(t, bids, 1)
	assert.Equal(t, mustPrice(t, "100.00"), bids[0].Price)
	assert.Equal(t, 2.0, bids[0].Sources["alpha"])
	assert.Equal(t, 3.0, bids[0].Sources["beta"])

	require.Len(t, asks, 2)
	assert.Equal(t, mustPrice(t, "100.10"), asks[0].Price)

	bid, ask, ok := agg.BestBidAsk()
	require.True(t, ok)
	assert.Equal(t, mustPrice(t, "100.00"), bid)
	assert.Equal(t, mustPrice(t, "100.10"), ask)

	spread, ok := agg.Spread()
	require.True(t, ok)
	assert.Equal(t, domain.Price(10), spread)
}

func TestAggregatorTracksDiffUpdates(t *testing.T) {
	agg, ctx := startAggregator(t)

	feed := sim.NewFeed("alpha", domain.SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"99.50", "1"}},
		Asks:         [][]string{{"100.50", "1"}},
	})
	require.NoError(t, agg.AddVenue(ctx, feed))

	require.Eventually(t, func() bool {
		_, _, ok := agg.BestBidAsk()
		return ok
	}, time.Second, 5*time.Millisecond)

	// Improve the bid, drop the ask.
	feed.PushDiff([][]string{{"99.75", "2"}}, [][]string{{"100.50", "0"}})

	require.Eventually(t, func() bool {
		bids, asks := agg.Depth(10)
		return len(bids) == 2 && len(asks) == 0
	}, time.Second, 5*time.Millisecond)

	bids, _ := agg.Depth(10)
	assert.Equal(t, mustPrice(t, "99.75"), bids[0].Price)
}

func TestRemoveVenuePurgesItsLiquidity(t *testing.T) {
	agg, ctx := startAggregator(t)

	alpha := sim.NewFeed("alpha", domain.SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.10", "1"}},
	})
	beta := sim.NewFeed("beta", domain.SnapshotEvent{
		LastUpdateID: 50,
		Bids:         [][]string{{"100.00", "3"}},
		Asks:         [][]string{{"100.20", "5"}},
	})
	require.NoError(t, agg.AddVenue(ctx, alpha))
	require.NoError(t, agg.AddVenue(ctx, beta))

	require.Eventually(t, func() bool {
		bids, _ := agg.Depth(1)
		return len(bids) == 1 && bids[0].Size() == 5
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, agg.RemoveVenue("alpha"))

	require.Eventually(t, func() bool {
		bids, asks := agg.Depth(10)
		if len(bids) != 1 || len(asks) != 1 {
			return false
		}
		_, fromAlpha := bids[0].Sources["alpha"]
		return !fromAlpha && bids[0].Size() == 3
	}, time.Second, 5*time.Millisecond)

	// Removing again is a no-op.
	require.NoError(t, agg.RemoveVenue("alpha"))
}

func TestAddVenueRejectsDuplicates(t *testing.T) {
	agg, ctx := startAggregator(t)

	feed := sim.NewFeed("alpha", domain.SnapshotEvent{LastUpdateID: 1})
	require.NoError(t, agg.AddVenue(ctx, feed))
	assert.Error(t, agg.AddVenue(ctx, feed))
}

func TestVenueStatesAndMetricsSnapshots(t *testing.T) {
	agg, ctx := startAggregator(t)

	alpha := sim.NewFeed("alpha", domain.SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.10", "1"}},
	})
	require.NoError(t, agg.AddVenue(ctx, alpha))

	require.Eventually(t, func() bool {
		_, _, ok := agg.BestBidAsk()
		return ok
	}, time.Second, 5*time.Millisecond)

	// Syncing completes with the first diff that overlaps the snapshot.
	alpha.PushDiff([][]string{{"100.01", "1"}}, nil)

	require.Eventually(t, func() bool {
		return agg.VenueStates()["alpha"] == domain.StateSynced
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		snaps := agg.VenueMetricsSnapshots()
		return len(snaps) == 1 && snaps[0].UpdatesProcessed >= 2
	}, time.Second, 5*time.Millisecond)

	snaps := agg.VenueMetricsSnapshots()
	assert.Equal(t, "alpha", snaps[0].Venue)
}
