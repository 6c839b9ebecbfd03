package domain

import "time"

// FeedEvent is one item of a venue's typed event stream. Variants:
// SnapshotEvent, DiffEvent, DisconnectedEvent.
type FeedEvent interface {
	isFeedEvent()
}

// SnapshotEvent carries a full point-in-time book image. Levels keep the
// venue wire encoding ([price, size] string pairs); parsing is the
// consumer's concern so a malformed level can be dropped and counted
// without poisoning the rest of the image.
type SnapshotEvent struct {
	LastUpdateID int64
	Bids         [][]string
	Asks         [][]string
}

// DiffEvent is an incremental change covering the sequence id range
// [FirstUpdateID, FinalUpdateID].
type DiffEvent struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          [][]string
	Asks          [][]string
	// EventTime is the venue-reported timestamp, zero when the venue does
	// not provide one. ReceivedAt is stamped by the transport.
	EventTime  time.Time
	ReceivedAt time.Time
}

type DisconnectedEvent struct {
	Reason string
	// Reconnecting signals that the transport will come back and a resync
	// should follow; false means the venue is gone for good.
	Reconnecting bool
}

func (SnapshotEvent) isFeedEvent()     {}
func (DiffEvent) isFeedEvent()         {}
func (DisconnectedEvent) isFeedEvent() {}

// VenueFeed is the per-venue transport boundary. Implementations live in
// provider packages; the sync and metrics layers depend only on this
// contract, never on a venue's wire format.
type VenueFeed interface {
	Venue() string
	// Events yields an unbounded, possibly gappy stream. The channel is
	// closed when the feed terminates permanently.
	Events() <-chan FeedEvent
	// RequestSnapshot asks the venue for a fresh book image, delivered
	// later as a SnapshotEvent on the stream.
	RequestSnapshot() error
	Close() error
}
