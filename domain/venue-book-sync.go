package domain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

type SyncState string

const (
	StateAwaitingSnapshot SyncState = "awaiting_snapshot"
	StateBufferingDiffs   SyncState = "buffering_diffs"
	StateSynced           SyncState = "synced"
	StateResyncing        SyncState = "resyncing"
	StateTerminated       SyncState = "terminated"
)

const (
	defaultDiffBufferCap    = 1024
	defaultResyncBackoffMin = 250 * time.Millisecond
	defaultResyncBackoffMax = 30 * time.Second
)

type VenueBookSyncConfig struct {
	Precision     int32
	DiffBufferCap int
	// StaleAfter bounds how long a synced venue may stay silent before it
	// is treated like a disconnect. Zero disables the watchdog.
	StaleAfter       time.Duration
	ResyncBackoffMin time.Duration
	ResyncBackoffMax time.Duration
}

// VenueBookSync reconstructs one venue's locally-correct book from its
// snapshot+diff feed and emits the net effect of that process as
// LevelDelta events. Sequence gaps, disconnects and stalls all funnel into
// the same recovery: clear every contributed level, then resync from a
// fresh snapshot. Resync attempts are unlimited; a permanently gapped venue
// must never sit silently "synced" with wrong data.
type VenueBookSync struct {
	feed      VenueFeed
	book      *VenueLocalBook
	metrics   *VenueMetrics
	validator DepthUpdateValidator
	out       chan<- LevelDelta
	cfg       VenueBookSyncConfig
	log       zerolog.Logger

	stateMu   sync.Mutex
	state     SyncState
	buffer    deque.Deque[*DiffEvent]
	backoff   *backoff.Backoff
	lastEvent time.Time
}

func NewVenueBookSync(
	feed VenueFeed,
	metrics *VenueMetrics,
	out chan<- LevelDelta,
	cfg VenueBookSyncConfig,
	log zerolog.Logger,
) *VenueBookSync {
	if cfg.DiffBufferCap <= 0 {
		cfg.DiffBufferCap = defaultDiffBufferCap
	}
	if cfg.ResyncBackoffMin <= 0 {
		cfg.ResyncBackoffMin = defaultResyncBackoffMin
	}
	if cfg.ResyncBackoffMax <= 0 {
		cfg.ResyncBackoffMax = defaultResyncBackoffMax
	}
	return &VenueBookSync{
		feed:    feed,
		book:    NewVenueLocalBook(feed.Venue()),
		metrics: metrics,
		out:     out,
		cfg:     cfg,
		log:     log.With().Str("component", "venue-book-sync").Str("venue", feed.Venue()).Logger(),
		state:   StateAwaitingSnapshot,
		backoff: &backoff.Backoff{
			Min:    cfg.ResyncBackoffMin,
			Max:    cfg.ResyncBackoffMax,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (s *VenueBookSync) State() SyncState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *VenueBookSync) setState(st SyncState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Run consumes the feed until the context is cancelled, the feed closes, or
// the venue terminates. On every exit path the venue's contributed levels
// are cleared first, so the aggregate never keeps stale liquidity from a
// vanished task.
func (s *VenueBookSync) Run(ctx context.Context) {
	if err := s.feed.RequestSnapshot(); err != nil {
		s.log.Warn().Err(err).Msg("initial snapshot request failed")
	}

	var staleTick <-chan time.Time
	if s.cfg.StaleAfter > 0 {
		t := time.NewTicker(s.cfg.StaleAfter / 2)
		defer t.Stop()
		staleTick = t.C
	}
	s.lastEvent = time.Now()

	for {
		select {
		case <-ctx.Done():
			s.terminate("context cancelled")
			return
		case ev, ok := <-s.feed.Events():
			if !ok {
				s.terminate("feed closed")
				return
			}
			s.handleEvent(ev)
			if s.state == StateTerminated {
				return
			}
		case <-staleTick:
			if s.state == StateSynced && time.Since(s.lastEvent) > s.cfg.StaleAfter {
				s.log.Warn().Dur("stale_for", time.Since(s.lastEvent)).Msg("venue went silent, resyncing")
				s.resync("stale venue")
			}
		}
	}
}

func (s *VenueBookSync) handleEvent(ev FeedEvent) {
	s.lastEvent = time.Now()

	switch e := ev.(type) {
	case DiffEvent:
		s.handleDiff(&e)
	case *DiffEvent:
		s.handleDiff(e)
	case SnapshotEvent:
		s.handleSnapshot(&e)
	case *SnapshotEvent:
		s.handleSnapshot(e)
	case DisconnectedEvent:
		s.handleDisconnect(&e)
	case *DisconnectedEvent:
		s.handleDisconnect(e)
	}
}

func (s *VenueBookSync) handleDiff(d *DiffEvent) {
	s.metrics.ObserveUpdate(diffLatency(d))

	switch s.state {
	case StateTerminated:
		return

	case StateAwaitingSnapshot, StateResyncing:
		s.bufferDiff(d)

	case StateBufferingDiffs:
		// still hunting for the first diff that overlaps the snapshot
		err := s.validator.ValidateInitial(d, s.book.LastUpdateID())
		switch {
		case errors.Is(err, ErrUpdateOutdated):
			return
		case errors.Is(err, ErrUpdateOutOfSequence):
			// the overlapping diff can no longer arrive: ids only grow
			s.resync("gap before initial diff")
		default:
			s.applyDiff(d)
			s.markSynced()
		}

	case StateSynced:
		err := s.validator.ValidateSequential(d, s.book.LastUpdateID())
		switch {
		case errors.Is(err, ErrUpdateOutdated):
			s.log.Debug().
				Int64("final_update_id", d.FinalUpdateID).
				Int64("cursor", s.book.LastUpdateID()).
				Msg("dropping outdated diff")
		case errors.Is(err, ErrUpdateOutOfSequence):
			s.log.Warn().
				Int64("expected", s.book.LastUpdateID()+1).
				Int64("first_update_id", d.FirstUpdateID).
				Msg("sequence gap detected")
			s.resync("sequence gap")
		default:
			s.applyDiff(d)
		}
	}
}

func (s *VenueBookSync) handleSnapshot(snap *SnapshotEvent) {
	if s.state == StateTerminated {
		return
	}
	s.metrics.ObserveUpdate(0)

	s.applySnapshot(snap)
	s.setState(StateBufferingDiffs)
	s.drainBuffer()
}

func (s *VenueBookSync) handleDisconnect(d *DisconnectedEvent) {
	if s.state == StateTerminated {
		return
	}
	s.log.Warn().Str("reason", d.Reason).Bool("reconnecting", d.Reconnecting).Msg("venue disconnected")
	if !d.Reconnecting {
		s.terminate(d.Reason)
		return
	}
	s.metrics.ObserveReconnect()
	s.resync("disconnect: " + d.Reason)
}

// applySnapshot replaces the local book with the snapshot image, emitting a
// delta for every changed price. Prices the venue held that are absent from
// the image are emitted as removals, so an unsolicited snapshot while
// synced cannot strand levels.
func (s *VenueBookSync) applySnapshot(snap *SnapshotEvent) {
	for _, side := range [2]Side{SideBid, SideAsk} {
		levels := snap.Bids
		if side == SideAsk {
			levels = snap.Asks
		}

		seen := make(map[Price]struct{}, len(levels))
		for _, raw := range levels {
			price, size, err := s.parseLevel(raw)
			if err != nil {
				continue
			}
			seen[price] = struct{}{}
			if delta, changed := s.book.SetLevel(side, price, size); changed {
				s.emit(delta)
			}
		}
		for _, held := range s.heldPrices(side) {
			if _, ok := seen[held]; !ok {
				if delta, changed := s.book.SetLevel(side, held, 0); changed {
					s.emit(delta)
				}
			}
		}
	}
	s.book.SetLastUpdateID(snap.LastUpdateID)
	s.updateBestBidAsk()
	s.log.Info().Int64("last_update_id", snap.LastUpdateID).Int("levels", s.book.Len()).Msg("snapshot applied")
}

// drainBuffer discards buffered diffs the snapshot already covers, then
// chases the chain: the first applied diff must straddle snapshot+1, every
// later one must continue exactly where the previous ended. Diffs are
// never applied out of order; if the chain cannot start yet the sync stays
// in BufferingDiffs until the overlapping diff arrives on the stream.
func (s *VenueBookSync) drainBuffer() {
	snapshotID := s.book.LastUpdateID()

	for s.buffer.Len() > 0 {
		d := s.buffer.Front()

		var err error
		if s.state == StateBufferingDiffs {
			err = s.validator.ValidateInitial(d, snapshotID)
		} else {
			err = s.validator.ValidateSequential(d, s.book.LastUpdateID())
		}

		switch {
		case errors.Is(err, ErrUpdateOutdated):
			s.buffer.PopFront()
		case errors.Is(err, ErrUpdateOutOfSequence):
			if s.state == StateBufferingDiffs {
				// overflow dropped the overlapping diff; only a fresh
				// snapshot can help
				s.resync("gap in buffered diffs")
			} else {
				s.resync("gap while draining buffer")
			}
			return
		default:
			s.buffer.PopFront()
			s.applyDiff(d)
			if s.state == StateBufferingDiffs {
				s.markSynced()
			}
		}
	}
}

func (s *VenueBookSync) applyDiff(d *DiffEvent) {
	var malformed int
	for _, raw := range d.Bids {
		price, size, err := s.parseLevel(raw)
		if err != nil {
			malformed++
			continue
		}
		if delta, changed := s.book.SetLevel(SideBid, price, size); changed {
			s.emit(delta)
		}
	}
	for _, raw := range d.Asks {
		price, size, err := s.parseLevel(raw)
		if err != nil {
			malformed++
			continue
		}
		if delta, changed := s.book.SetLevel(SideAsk, price, size); changed {
			s.emit(delta)
		}
	}
	if malformed > 0 {
		s.metrics.ObserveMalformed(malformed)
		s.log.Debug().Int("dropped", malformed).Msg("dropped malformed levels")
	}
	s.book.SetLastUpdateID(d.FinalUpdateID)
	s.updateBestBidAsk()
}

func (s *VenueBookSync) markSynced() {
	s.setState(StateSynced)
	s.backoff.Reset()
	s.log.Info().Int64("cursor", s.book.LastUpdateID()).Msg("venue book synced")
}

// resync drops all local state, purges this venue's liquidity from the
// aggregate, and requests a fresh snapshot. Attempts are unlimited;
// repeated failures only stretch the pacing up to the configured cap.
func (s *VenueBookSync) resync(reason string) {
	s.setState(StateResyncing)
	s.metrics.ObserveResync()
	s.clearContributions()
	s.buffer.Clear()
	s.setState(StateAwaitingSnapshot)

	wait := s.backoff.Duration()
	s.log.Info().Str("reason", reason).Dur("backoff", wait).Msg("resyncing venue book")
	if wait > 0 {
		time.Sleep(wait)
	}
	if err := s.feed.RequestSnapshot(); err != nil {
		s.log.Warn().Err(err).Msg("snapshot request failed, awaiting stream recovery")
	}
}

func (s *VenueBookSync) terminate(reason string) {
	if s.state == StateTerminated {
		return
	}
	s.clearContributions()
	s.buffer.Clear()
	s.setState(StateTerminated)
	s.log.Info().Str("reason", reason).Msg("venue book sync terminated")
}

func (s *VenueBookSync) clearContributions() {
	for _, delta := range s.book.Clear() {
		s.emit(delta)
	}
}

func (s *VenueBookSync) bufferDiff(d *DiffEvent) {
	if s.buffer.Len() >= s.cfg.DiffBufferCap {
		dropped := s.buffer.PopFront()
		s.log.Warn().
			Int64("final_update_id", dropped.FinalUpdateID).
			Msg("diff buffer overflow, dropping oldest")
	}
	s.buffer.PushBack(d)
}

func (s *VenueBookSync) emit(d LevelDelta) {
	s.out <- d
}

func (s *VenueBookSync) parseLevel(raw []string) (Price, float64, error) {
	if len(raw) < 2 {
		return 0, 0, ErrMalformedLevel
	}
	price, err := ParsePrice(raw[0], s.cfg.Precision)
	if err != nil {
		return 0, 0, err
	}
	size, err := ParseSize(raw[1])
	if err != nil {
		return 0, 0, err
	}
	return price, size, nil
}

func (s *VenueBookSync) heldPrices(side Side) []Price {
	levels := s.book.side(side)
	prices := make([]Price, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	return prices
}

func (s *VenueBookSync) updateBestBidAsk() {
	if bid, ask, ok := s.book.BestBidAsk(); ok {
		s.metrics.SetBestBidAsk(bid, ask)
	}
}

func diffLatency(d *DiffEvent) time.Duration {
	if d.EventTime.IsZero() || d.ReceivedAt.IsZero() {
		return 0
	}
	lat := d.ReceivedAt.Sub(d.EventTime)
	if lat < 0 {
		return 0
	}
	return lat
}
