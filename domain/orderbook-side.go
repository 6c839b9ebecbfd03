package domain

import "github.com/emirpasic/gods/maps/treemap"

// PriceLevel is one discrete price on one side of the aggregate, with the
// per-venue size attribution. A level exists only while at least one venue
// has non-zero size at its price.
type PriceLevel struct {
	Price   Price
	Sources map[string]float64
}

func (l *PriceLevel) Size() float64 {
	var total float64
	for _, s := range l.Sources {
		total += s
	}
	return total
}

func (l *PriceLevel) clone() PriceLevel {
	sources := make(map[string]float64, len(l.Sources))
	for venue, size := range l.Sources {
		sources[venue] = size
	}
	return PriceLevel{Price: l.Price, Sources: sources}
}

// OrderBookSide keeps PriceLevel entries ordered best-first: bids by
// descending price, asks by ascending price. Both sides therefore iterate
// forward from the top of book.
type OrderBookSide struct {
	side   Side
	levels *treemap.Map
}

func NewOrderBookSide(side Side) *OrderBookSide {
	cmp := ascendingPrice
	if side == SideBid {
		cmp = descendingPrice
	}
	return &OrderBookSide{side: side, levels: treemap.NewWith(cmp)}
}

func ascendingPrice(a, b interface{}) int {
	pa, pb := a.(Price), b.(Price)
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

func descendingPrice(a, b interface{}) int {
	return -ascendingPrice(a, b)
}

// setSource sets or removes one venue's entry at a price, creating and
// dropping the level as needed. A zero size for an absent venue/price is a
// no-op.
func (s *OrderBookSide) setSource(venue string, price Price, size float64) {
	v, found := s.levels.Get(price)
	if !found {
		if size == 0 {
			return
		}
		s.levels.Put(price, &PriceLevel{
			Price:   price,
			Sources: map[string]float64{venue: size},
		})
		return
	}

	level := v.(*PriceLevel)
	if size == 0 {
		delete(level.Sources, venue)
	} else {
		level.Sources[venue] = size
	}
	if len(level.Sources) == 0 {
		s.levels.Remove(price)
	}
}

func (s *OrderBookSide) removeVenue(venue string) {
	var empty []Price
	s.levels.Each(func(key, value interface{}) {
		level := value.(*PriceLevel)
		delete(level.Sources, venue)
		if len(level.Sources) == 0 {
			empty = append(empty, key.(Price))
		}
	})
	for _, p := range empty {
		s.levels.Remove(p)
	}
}

func (s *OrderBookSide) sourceSize(venue string, price Price) float64 {
	v, found := s.levels.Get(price)
	if !found {
		return 0
	}
	return v.(*PriceLevel).Sources[venue]
}

// depth returns up to n level copies in sort order. Copies keep callers
// isolated from later mutation.
func (s *OrderBookSide) depth(n int) []PriceLevel {
	out := make([]PriceLevel, 0, n)
	it := s.levels.Iterator()
	for it.Next() && len(out) < n {
		out = append(out, it.Value().(*PriceLevel).clone())
	}
	return out
}

func (s *OrderBookSide) best() (Price, bool) {
	key, _ := s.levels.Min()
	if key == nil {
		return 0, false
	}
	return key.(Price), true
}

func (s *OrderBookSide) len() int {
	return s.levels.Size()
}
