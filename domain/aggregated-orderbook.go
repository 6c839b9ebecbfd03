package domain

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// AggregatedOrderBook merges the liquidity of every synced venue into one
// queryable view. It is the single shared-mutation point of the system:
// Apply and RemoveVenue take the write lock, queries take the read lock, so
// every query observes one consistent snapshot and no reader ever sees a
// level with an empty venue mapping.
type AggregatedOrderBook struct {
	mu        sync.RWMutex
	bids      *OrderBookSide
	asks      *OrderBookSide
	precision int32
	log       zerolog.Logger
}

func NewAggregatedOrderBook(precision int32, log zerolog.Logger) *AggregatedOrderBook {
	return &AggregatedOrderBook{
		bids:      NewOrderBookSide(SideBid),
		asks:      NewOrderBookSide(SideAsk),
		precision: precision,
		log:       log.With().Str("component", "aggregated-orderbook").Logger(),
	}
}

func (ob *AggregatedOrderBook) Precision() int32 { return ob.precision }

func (ob *AggregatedOrderBook) sideOf(s Side) *OrderBookSide {
	if s == SideBid {
		return ob.bids
	}
	return ob.asks
}

// Apply folds one delta into the aggregate. Once it returns, every
// subsequent query observes the update. A negative or non-finite size is a
// logic fault upstream: the delta is logged and dropped, never guessed at.
func (ob *AggregatedOrderBook) Apply(d LevelDelta) {
	if d.NewSize < 0 || math.IsNaN(d.NewSize) || math.IsInf(d.NewSize, 0) {
		ob.log.Error().
			Str("venue", d.Venue).
			Str("side", d.Side.String()).
			Float64("size", d.NewSize).
			Msg("dropping delta with invalid size")
		return
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.sideOf(d.Side).setSource(d.Venue, d.Price, d.NewSize)
}

// RemoveVenue strips every entry attributed to a venue, dropping levels it
// was the sole contributor to. Used for administrative removal; resyncing
// venues clear themselves through zero-size deltas instead.
func (ob *AggregatedOrderBook) RemoveVenue(venue string) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids.removeVenue(venue)
	ob.asks.removeVenue(venue)
}

// GetDepth returns up to n levels per side, bids descending and asks
// ascending, each with the full venue attribution. The two slices come from
// one consistent snapshot of the book.
func (ob *AggregatedOrderBook) GetDepth(n int) (bids []PriceLevel, asks []PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.depth(n), ob.asks.depth(n)
}

// BestBidAskPrices reports the top of each side. ok is false only while one
// side holds no liquidity at all. A crossed book (bid >= ask) is a valid
// transient state between venues and is surfaced as-is.
func (ob *AggregatedOrderBook) BestBidAskPrices() (bid Price, ask Price, ok bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid, bidOK := ob.bids.best()
	ask, askOK := ob.asks.best()
	if !bidOK || !askOK {
		return 0, 0, false
	}
	return bid, ask, true
}

// Spread is ask minus bid; negative when the book is crossed across venues.
func (ob *AggregatedOrderBook) Spread() (Price, bool) {
	bid, ask, ok := ob.BestBidAskPrices()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// VolumeFromVenue reports one venue's resting size at a price, zero when
// the venue holds nothing there.
func (ob *AggregatedOrderBook) VolumeFromVenue(side Side, price Price, venue string) float64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sideOf(side).sourceSize(venue, price)
}

func (ob *AggregatedOrderBook) LevelCount(side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sideOf(side).len()
}
