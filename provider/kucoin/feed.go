package kucoin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
)

const VenueName = "kucoin"

type depthUpdateModel struct {
	Changes       orderBookChanges `json:"changes"`
	SequenceStart int64            `json:"sequenceStart"`
	SequenceEnd   int64            `json:"sequenceEnd"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

type orderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

// Feed adapts kucoin's level2 stream to the venue feed contract. Change
// rows carry a trailing per-level sequence which the book sync ignores;
// ordering is driven by sequenceStart/sequenceEnd.
type Feed struct {
	symbol  *domain.MarketSymbol
	client  *StreamClient
	syncAPI *SyncAPI

	events chan domain.FeedEvent
	sub    *domain.Subscription[[]byte]
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewFeed(cfg config.KucoinConfig, symbol *domain.MarketSymbol, log zerolog.Logger) (*Feed, error) {
	syncAPI := NewSyncAPI(cfg, log)
	client := NewStreamClient(syncAPI, log)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect kucoin stream: %w", err)
	}

	f := &Feed{
		symbol:  symbol,
		client:  client,
		syncAPI: syncAPI,
		events:  make(chan domain.FeedEvent, 256),
		log:     log.With().Str("venue", VenueName).Logger(),
		done:    make(chan struct{}),
	}

	client.OnDisconnect(func(reason string) {
		f.push(domain.DisconnectedEvent{Reason: reason, Reconnecting: true})
	})

	topic := fmt.Sprintf("/market/level2:%s", strings.ToUpper(symbol.Join("-")))
	sub, err := client.Subscribe(topic)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.sub = sub

	go f.decodeLoop()
	return f, nil
}

func (f *Feed) Venue() string { return VenueName }

func (f *Feed) Events() <-chan domain.FeedEvent { return f.events }

func (f *Feed) RequestSnapshot() error {
	go func() {
		b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 10 * time.Second, Jitter: true}
		for {
			snapshot, err := f.syncAPI.OrderBookSnapshot(f.symbol)
			if err == nil {
				f.push(snapshot)
				return
			}
			f.log.Warn().Err(err).Msg("snapshot fetch failed, retrying")

			select {
			case <-f.done:
				return
			case <-time.After(b.Duration()):
			}
		}
	}()
	return nil
}

func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.sub.Unsubscribe()
		f.client.Close()
	})
	return nil
}

func (f *Feed) decodeLoop() {
	for msg := range f.sub.Stream {
		var update depthUpdateModel
		if err := json.Unmarshal(msg, &update); err != nil {
			f.log.Warn().Err(err).Msg("undecodable l2update frame")
			continue
		}

		f.push(domain.DiffEvent{
			FirstUpdateID: update.SequenceStart,
			FinalUpdateID: update.SequenceEnd,
			Bids:          update.Changes.Bids,
			Asks:          update.Changes.Asks,
			EventTime:     time.UnixMilli(update.Time),
			ReceivedAt:    time.Now(),
		})
	}
	f.push(domain.DisconnectedEvent{Reason: "stream subscription closed", Reconnecting: false})
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
