package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	venue            string
	events           chan FeedEvent
	snapshotRequests int
	closed           bool
}

func newStubFeed(venue string) *stubFeed {
	return &stubFeed{venue: venue, events: make(chan FeedEvent, 64)}
}

func (f *stubFeed) Venue() string            { return f.venue }
func (f *stubFeed) Events() <-chan FeedEvent { return f.events }
func (f *stubFeed) RequestSnapshot() error {
	f.snapshotRequests++
	return nil
}
func (f *stubFeed) Close() error {
	f.closed = true
	return nil
}

func newTestSync(t *testing.T, venue string) (*VenueBookSync, *stubFeed, chan LevelDelta, *VenueMetrics) {
	t.Helper()
	feed := newStubFeed(venue)
	metrics := NewVenueMetrics(venue)
	out := make(chan LevelDelta, 1024)
	sync := NewVenueBookSync(feed, metrics, out, VenueBookSyncConfig{
		Precision:        2,
		DiffBufferCap:    16,
		ResyncBackoffMin: time.Nanosecond,
		ResyncBackoffMax: time.Nanosecond,
	}, testLogger())
	return sync, feed, out, metrics
}

func drainDeltas(out chan LevelDelta) []LevelDelta {
	var deltas []LevelDelta
	for {
		select {
		case d := <-out:
			deltas = append(deltas, d)
		default:
			return deltas
		}
	}
}

func diff(first, final int64, bids, asks [][]string) DiffEvent {
	return DiffEvent{
		FirstUpdateID: first,
		FinalUpdateID: final,
		Bids:          bids,
		Asks:          asks,
	}
}

func TestVenueBookSync_SnapshotThenChainedDiffs(t *testing.T) {
	sync, _, out, _ := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{
		LastUpdateID: 100,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.50", "1"}},
	})
	assert.Equal(t, StateBufferingDiffs, sync.State())

	// whole range at or before the snapshot: discarded
	sync.handleEvent(diff(95, 99, [][]string{{"99.00", "5"}}, nil))
	assert.Equal(t, StateBufferingDiffs, sync.State())

	// straddles snapshot+1: applied, sync achieved
	sync.handleEvent(diff(98, 102, [][]string{{"99.50", "3"}}, nil))
	assert.Equal(t, StateSynced, sync.State())
	assert.Equal(t, int64(102), sync.book.LastUpdateID())

	sync.handleEvent(diff(103, 105, nil, [][]string{{"100.50", "4"}}))
	assert.Equal(t, StateSynced, sync.State())
	assert.Equal(t, int64(105), sync.book.LastUpdateID())

	deltas := drainDeltas(out)
	require.NotEmpty(t, deltas)
	for _, d := range deltas {
		assert.Equal(t, "venue-a", d.Venue)
	}
	assert.Equal(t, 4.0, sync.book.Size(SideAsk, Price(10050)))
	assert.Equal(t, 3.0, sync.book.Size(SideBid, Price(9950)))
}

func TestVenueBookSync_GapTriggersResyncWithClears(t *testing.T) {
	sync, feed, out, metrics := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{
		LastUpdateID: 100,
		Bids:         [][]string{{"100.00", "2"}, {"99.50", "1"}},
		Asks:         [][]string{{"100.50", "1"}},
	})
	sync.handleEvent(diff(98, 102, [][]string{{"99.75", "3"}}, nil))
	require.Equal(t, StateSynced, sync.State())
	drainDeltas(out)

	held := sync.book.Len()
	require.Equal(t, 4, held)

	// expected first id is 106; 107 leaves a hole
	sync.handleEvent(diff(103, 105, nil, nil))
	sync.handleEvent(diff(107, 110, [][]string{{"99.00", "9"}}, nil))

	assert.Equal(t, StateAwaitingSnapshot, sync.State())
	assert.Equal(t, 1, feed.snapshotRequests)

	deltas := drainDeltas(out)
	require.Len(t, deltas, held)
	for _, d := range deltas {
		assert.Zero(t, d.NewSize, "resync must clear every contributed level")
	}
	assert.Zero(t, sync.book.Len())
	assert.Equal(t, uint64(1), metrics.Snapshot().Resyncs)
}

func TestVenueBookSync_BuffersDiffsBeforeSnapshot(t *testing.T) {
	sync, _, out, _ := newTestSync(t, "venue-a")

	sync.handleEvent(diff(99, 100, [][]string{{"98.00", "1"}}, nil))
	sync.handleEvent(diff(101, 103, [][]string{{"99.00", "2"}}, nil))
	sync.handleEvent(diff(104, 106, nil, [][]string{{"101.00", "5"}}))
	assert.Equal(t, StateAwaitingSnapshot, sync.State())
	assert.Empty(t, drainDeltas(out))

	sync.handleEvent(SnapshotEvent{
		LastUpdateID: 102,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.50", "1"}},
	})

	// [99,100] discarded, [101,103] straddles 103, [104,106] chains
	assert.Equal(t, StateSynced, sync.State())
	assert.Equal(t, int64(106), sync.book.LastUpdateID())
	assert.Equal(t, 2.0, sync.book.Size(SideBid, Price(9900)))
	assert.Equal(t, 5.0, sync.book.Size(SideAsk, Price(10100)))
}

func TestVenueBookSync_StaysBufferingUntilOverlapArrives(t *testing.T) {
	sync, _, _, _ := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{LastUpdateID: 100, Bids: [][]string{{"100.00", "1"}}})
	require.Equal(t, StateBufferingDiffs, sync.State())

	sync.handleEvent(diff(90, 95, nil, nil))
	assert.Equal(t, StateBufferingDiffs, sync.State())

	sync.handleEvent(diff(99, 104, [][]string{{"100.00", "7"}}, nil))
	assert.Equal(t, StateSynced, sync.State())
	assert.Equal(t, 7.0, sync.book.Size(SideBid, Price(10000)))
}

func TestVenueBookSync_BufferOverflowDropsOldest(t *testing.T) {
	feed := newStubFeed("venue-a")
	out := make(chan LevelDelta, 16)
	sync := NewVenueBookSync(feed, NewVenueMetrics("venue-a"), out, VenueBookSyncConfig{
		Precision:        2,
		DiffBufferCap:    2,
		ResyncBackoffMin: time.Nanosecond,
		ResyncBackoffMax: time.Nanosecond,
	}, testLogger())

	sync.handleEvent(diff(1, 2, nil, nil))
	sync.handleEvent(diff(3, 4, nil, nil))
	sync.handleEvent(diff(5, 6, nil, nil))

	require.Equal(t, 2, sync.buffer.Len())
	assert.Equal(t, int64(3), sync.buffer.Front().FirstUpdateID)
}

func TestVenueBookSync_DisconnectClearsAndResyncs(t *testing.T) {
	sync, feed, out, metrics := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.50", "1"}},
	})
	sync.handleEvent(diff(11, 12, nil, nil))
	require.Equal(t, StateSynced, sync.State())
	drainDeltas(out)

	sync.handleEvent(DisconnectedEvent{Reason: "read error", Reconnecting: true})

	assert.Equal(t, StateAwaitingSnapshot, sync.State())
	assert.Equal(t, uint64(1), metrics.Snapshot().Reconnects)
	assert.Equal(t, 1, feed.snapshotRequests)

	deltas := drainDeltas(out)
	require.Len(t, deltas, 2)
	for _, d := range deltas {
		assert.Zero(t, d.NewSize)
	}
}

func TestVenueBookSync_PermanentDisconnectTerminates(t *testing.T) {
	sync, _, out, _ := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{LastUpdateID: 10, Bids: [][]string{{"100.00", "2"}}})
	drainDeltas(out)

	sync.handleEvent(DisconnectedEvent{Reason: "venue removed", Reconnecting: false})

	assert.Equal(t, StateTerminated, sync.State())
	deltas := drainDeltas(out)
	require.Len(t, deltas, 1)
	assert.Zero(t, deltas[0].NewSize)

	// terminated sync ignores everything that follows
	sync.handleEvent(diff(11, 12, [][]string{{"100.00", "9"}}, nil))
	assert.Empty(t, drainDeltas(out))
}

func TestVenueBookSync_MalformedLevelsDroppedAndCounted(t *testing.T) {
	sync, _, out, metrics := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{LastUpdateID: 10, Bids: [][]string{{"100.00", "2"}}})
	drainDeltas(out)

	sync.handleEvent(diff(11, 12,
		[][]string{{"not-a-price", "1"}, {"99.00", "-3"}, {"99.50", "4"}},
		[][]string{{"101.00"}},
	))

	assert.Equal(t, StateSynced, sync.State())
	assert.Equal(t, int64(12), sync.book.LastUpdateID())
	assert.Equal(t, uint64(3), metrics.Snapshot().MalformedMessages)

	deltas := drainDeltas(out)
	require.Len(t, deltas, 1)
	assert.Equal(t, Price(9950), deltas[0].Price)
	assert.Equal(t, 4.0, deltas[0].NewSize)
}

func TestVenueBookSync_ZeroSizeInDiffRemovesLevel(t *testing.T) {
	sync, _, out, _ := newTestSync(t, "venue-a")

	sync.handleEvent(SnapshotEvent{LastUpdateID: 10, Bids: [][]string{{"100.00", "2"}}})
	sync.handleEvent(diff(11, 12, [][]string{{"100.00", "0"}}, nil))

	assert.Zero(t, sync.book.Len())
	deltas := drainDeltas(out)
	require.Len(t, deltas, 2)
	assert.Equal(t, 2.0, deltas[0].NewSize)
	assert.Zero(t, deltas[1].NewSize)
}

func TestVenueBookSync_RunClearsOnCancel(t *testing.T) {
	sync, feed, out, _ := newTestSync(t, "venue-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sync.Run(ctx)
		close(done)
	}()

	feed.events <- SnapshotEvent{
		LastUpdateID: 10,
		Bids:         [][]string{{"100.00", "2"}},
		Asks:         [][]string{{"100.50", "1"}},
	}

	assert.Eventually(t, func() bool {
		return sync.State() == StateBufferingDiffs
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sync did not stop after cancel")
	}

	assert.Equal(t, StateTerminated, sync.State())
	deltas := drainDeltas(out)
	// two creating deltas from the snapshot, two clearing deltas on cancel
	require.Len(t, deltas, 4)
	assert.Zero(t, deltas[2].NewSize+deltas[3].NewSize)
}
