package domain

// VenueLocalBook is one venue's full, independently-correct book plus the
// per-venue sequence cursor. It is owned and mutated by a single
// VenueBookSync and never shared.
type VenueLocalBook struct {
	venue        string
	bids         map[Price]float64
	asks         map[Price]float64
	lastUpdateID int64
}

func NewVenueLocalBook(venue string) *VenueLocalBook {
	return &VenueLocalBook{
		venue: venue,
		bids:  make(map[Price]float64),
		asks:  make(map[Price]float64),
	}
}

func (b *VenueLocalBook) Venue() string { return b.venue }

func (b *VenueLocalBook) LastUpdateID() int64 { return b.lastUpdateID }

func (b *VenueLocalBook) SetLastUpdateID(id int64) { b.lastUpdateID = id }

func (b *VenueLocalBook) side(s Side) map[Price]float64 {
	if s == SideBid {
		return b.bids
	}
	return b.asks
}

// SetLevel stores the venue's resting size at a price and reports the net
// effect as a LevelDelta. ok is false when the size did not change, in
// which case no delta must be emitted.
func (b *VenueLocalBook) SetLevel(side Side, price Price, size float64) (LevelDelta, bool) {
	levels := b.side(side)
	prev, held := levels[price]
	if size == 0 {
		if !held {
			return LevelDelta{}, false
		}
		delete(levels, price)
	} else {
		if held && prev == size {
			return LevelDelta{}, false
		}
		levels[price] = size
	}
	return LevelDelta{Venue: b.venue, Side: side, Price: price, NewSize: size}, true
}

func (b *VenueLocalBook) Size(side Side, price Price) float64 {
	return b.side(side)[price]
}

func (b *VenueLocalBook) Len() int {
	return len(b.bids) + len(b.asks)
}

// BestBidAsk scans for the venue's own top of book; ok is false while
// either side is empty.
func (b *VenueLocalBook) BestBidAsk() (bid Price, ask Price, ok bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, false
	}
	first := true
	for p := range b.bids {
		if first || p > bid {
			bid = p
		}
		first = false
	}
	first = true
	for p := range b.asks {
		if first || p < ask {
			ask = p
		}
		first = false
	}
	return bid, ask, true
}

// Clear empties the book and returns one zero-size delta per price the
// venue contributed, so the aggregate can be purged of its liquidity.
func (b *VenueLocalBook) Clear() []LevelDelta {
	deltas := make([]LevelDelta, 0, b.Len())
	for p := range b.bids {
		deltas = append(deltas, LevelDelta{Venue: b.venue, Side: SideBid, Price: p})
	}
	for p := range b.asks {
		deltas = append(deltas, LevelDelta{Venue: b.venue, Side: SideAsk, Price: p})
	}
	b.bids = make(map[Price]float64)
	b.asks = make(map[Price]float64)
	b.lastUpdateID = 0
	return deltas
}
