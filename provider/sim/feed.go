// Package sim provides a scripted in-memory venue feed. It is used by
// aggregator tests and by local runs that have no exchange access.
package sim

import (
	"sync"
	"time"

	"github.com/quantora/go-liquidity-bridge/domain"
)

// Feed replays a scripted snapshot and accepts injected diff events.
// RequestSnapshot serves the configured snapshot immediately, so a book
// sync driven by this feed becomes synced without any network round trip.
type Feed struct {
	venue    string
	snapshot domain.SnapshotEvent

	mu     sync.Mutex
	seq    int64
	events chan domain.FeedEvent

	closeOnce sync.Once
	done      chan struct{}
}

func NewFeed(venue string, snapshot domain.SnapshotEvent) *Feed {
	return &Feed{
		venue:    venue,
		snapshot: snapshot,
		seq:      snapshot.LastUpdateID,
		events:   make(chan domain.FeedEvent, 256),
		done:     make(chan struct{}),
	}
}

func (f *Feed) Venue() string { return f.venue }

func (f *Feed) Events() <-chan domain.FeedEvent { return f.events }

func (f *Feed) RequestSnapshot() error {
	f.push(f.snapshot)
	return nil
}

// PushDiff injects a diff continuing the sequence from the snapshot.
// Level rows are [price, size] string pairs.
func (f *Feed) PushDiff(bids, asks [][]string) {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	now := time.Now()
	f.push(domain.DiffEvent{
		FirstUpdateID: seq,
		FinalUpdateID: seq,
		Bids:          bids,
		Asks:          asks,
		EventTime:     now,
		ReceivedAt:    now,
	})
}

func (f *Feed) PushDisconnect(reason string, reconnecting bool) {
	f.push(domain.DisconnectedEvent{Reason: reason, Reconnecting: reconnecting})
}

func (f *Feed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *Feed) push(ev domain.FeedEvent) {
	select {
	case <-f.done:
		return
	default:
	}

	select {
	case f.events <- ev:
	case <-f.done:
	}
}
