package binance

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
)

const VenueName = "binance"

type depthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// Feed adapts binance's depth-diff stream and ws-api snapshots to the
// venue feed contract. Diff events flow from the multiplexed stream
// client; snapshots are fetched asynchronously so a request never
// blocks the consumer's event loop.
type Feed struct {
	symbol        *domain.MarketSymbol
	client        *StreamClient
	syncAPI       *SyncAPI
	snapshotDepth int

	events chan domain.FeedEvent
	sub    *domain.Subscription[[]byte]
	log    zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewFeed(cfg config.BinanceConfig, symbol *domain.MarketSymbol, log zerolog.Logger) (*Feed, error) {
	client := NewStreamClient(cfg.StreamEndpoint, log)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect binance stream: %w", err)
	}

	syncAPI, err := NewSyncAPI(cfg.WSAPIEndpoint, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	f := &Feed{
		symbol:        symbol,
		client:        client,
		syncAPI:       syncAPI,
		snapshotDepth: cfg.SnapshotDepth,
		events:        make(chan domain.FeedEvent, 256),
		log:           log.With().Str("venue", VenueName).Logger(),
		done:          make(chan struct{}),
	}

	client.OnDisconnect(func(reason string) {
		f.push(domain.DisconnectedEvent{Reason: reason, Reconnecting: true})
	})

	topic := fmt.Sprintf("%s@depth", symbol.Join(""))
	sub, err := client.Subscribe(topic)
	if err != nil {
		syncAPI.Close()
		client.Close()
		return nil, err
	}
	f.sub = sub

	go f.decodeLoop()
	return f, nil
}

func (f *Feed) Venue() string { return VenueName }

func (f *Feed) Events() <-chan domain.FeedEvent { return f.events }

// RequestSnapshot fetches a depth snapshot in the background and pushes
// it into the event stream. Fetch failures are retried with backoff
// until the feed is closed.
func (f *Feed) RequestSnapshot() error {
	go func() {
		b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 10 * time.Second, Jitter: true}
		for {
			snapshot, err := f.syncAPI.OrderBookSnapshot(f.symbol, f.snapshotDepth)
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
		f.syncAPI.Close()
	})
	return nil
}

func (f *Feed) decodeLoop() {
	for msg := range f.sub.Stream {
		var message Message[depthUpdateData]
		if err := json.Unmarshal(msg, &message); err != nil {
			f.log.Warn().Err(err).Msg("undecodable depth frame")
			continue
		}
		if message.Data.Event != "depthUpdate" {
			continue
		}

		f.push(domain.DiffEvent{
			FirstUpdateID: message.Data.FirstUpdateID,
			FinalUpdateID: message.Data.FinalUpdateID,
			Bids:          message.Data.Bids,
			Asks:          message.Data.Asks,
			EventTime:     time.UnixMilli(message.Data.EventTime),
			ReceivedAt:    time.Now(),
		})
	}
	// Stream closed for good: tell the book sync to emit clears and stop.
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
