package domain

type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// LevelDelta states that a venue's resting size at a price is now NewSize.
// NewSize == 0 removes the venue's contribution at that price. Deltas are
// values: produced by a VenueBookSync, consumed once by the aggregate.
type LevelDelta struct {
	Venue   string
	Side    Side
	Price   Price
	NewSize float64
}
