package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/domain"
)

const pingDelay = 9 * time.Minute

// Message is binance's combined-stream envelope.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type wsRequest struct {
	ReqID  int      `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

// StreamClient multiplexes topics over a single auto-reconnecting
// combined-stream connection. Binance forgets subscriptions across
// connections, so after every redial the client re-subscribes all
// topics and fires the registered disconnect handlers so consumers
// can resync their books.
type StreamClient struct {
	endpoint string
	conn     *recws.RecConn
	log      zerolog.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry
	onDisconnect  []func(reason string)

	done chan struct{}
}

func NewStreamClient(endpoint string, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		endpoint:      endpoint,
		log:           log.With().Str("component", "binance-stream").Logger(),
		subscriptions: make(map[string]*subscriptionEntry),
		done:          make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		KeepAliveTimeout: pingDelay,
		NonVerbose:       true,
	}
	conn.Dial(c.endpoint, nil)
	c.conn = conn

	go c.read()
	return nil
}

// OnDisconnect registers a handler fired whenever the underlying
// connection drops. Register before subscribing.
func (c *StreamClient) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *StreamClient) Subscribe(topic string) (*domain.Subscription[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if ok {
		entry.subscriberCount++
	} else {
		entry = &subscriptionEntry{
			ch:              make(chan []byte, 256),
			subscriberCount: 1,
		}
		c.subscriptions[topic] = entry

		c.log.Info().Str("topic", topic).Msg("subscribing")
		if err := c.conn.WriteJSON(wsRequest{
			Method: "SUBSCRIBE",
			ReqID:  randomReqID(),
			Params: []string{topic},
		}); err != nil {
			delete(c.subscriptions, topic)
			return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
		}
	}

	return &domain.Subscription[[]byte]{
		Stream:      entry.ch,
		Topic:       topic,
		Unsubscribe: func() { c.unsubscribe(topic) },
	}, nil
}

func (c *StreamClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	if entry.subscriberCount > 1 {
		entry.subscriberCount--
		return
	}

	close(entry.ch)
	delete(c.subscriptions, topic)

	c.log.Info().Str("topic", topic).Msg("unsubscribing")
	if err := c.conn.WriteJSON(wsRequest{
		Method: "UNSUBSCRIBE",
		ReqID:  randomReqID(),
		Params: []string{topic},
	}); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("unsubscribe write failed")
	}
}

func (c *StreamClient) Close() error {
	close(c.done)
	c.conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, entry := range c.subscriptions {
		close(entry.ch)
		delete(c.subscriptions, topic)
	}
	return nil
}

func (c *StreamClient) read() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.handleDisconnect(err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *StreamClient) handleDisconnect(err error) {
	c.log.Warn().Err(err).Msg("stream connection lost")

	c.mu.Lock()
	handlers := append([]func(string){}, c.onDisconnect...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(err.Error())
	}

	// recws redials in the background; wait for it before re-subscribing.
	for !c.conn.IsConnected() {
		select {
		case <-c.done:
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
	c.resubscribeAll()
}

func (c *StreamClient) resubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range c.subscriptions {
		if err := c.conn.WriteJSON(wsRequest{
			Method: "SUBSCRIBE",
			ReqID:  randomReqID(),
			Params: []string{topic},
		}); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (c *StreamClient) dispatch(msg []byte) {
	var envelope struct {
		Stream string `json:"stream"`
		ID     *int   `json:"id"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		c.log.Debug().Err(err).Msg("unparseable stream frame")
		return
	}
	if envelope.Stream == "" {
		// subscribe/unsubscribe ack, nothing to route
		return
	}

	c.mu.Lock()
	entry, ok := c.subscriptions[envelope.Stream]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case entry.ch <- msg:
	default:
		c.log.Warn().Str("topic", envelope.Stream).Msg("slow consumer, dropping frame")
	}
}

func randomReqID() int {
	const min, max = 10000, 9999999
	return min + rand.Intn(max-min)
}
