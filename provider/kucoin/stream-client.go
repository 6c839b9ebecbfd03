package kucoin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/domain"
)

type wsMessage struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type"`
	Topic          string          `json:"topic,omitempty"`
	Subject        string          `json:"subject,omitempty"`
	PrivateChannel bool            `json:"privateChannel,omitempty"`
	Response       bool            `json:"response,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type subscriptionEntry struct {
	ch              chan []byte
	subscriberCount int
}

// StreamClient speaks kucoin's token-based websocket protocol: the
// dial endpoint and ping cadence come from the REST API, the client
// answers the server's ping contract itself, and topic frames are
// fanned out to subscribers. Subscriptions are replayed after every
// reconnect.
type StreamClient struct {
	syncAPI *SyncAPI
	conn    *recws.RecConn
	log     zerolog.Logger

	pingInterval time.Duration

	mu            sync.Mutex
	subscriptions map[string]*subscriptionEntry
	onDisconnect  []func(reason string)

	done chan struct{}
}

func NewStreamClient(syncAPI *SyncAPI, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		syncAPI:       syncAPI,
		log:           log.With().Str("component", "kucoin-stream").Logger(),
		subscriptions: make(map[string]*subscriptionEntry),
		done:          make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	token, err := c.syncAPI.WsConnOpts()
	if err != nil {
		return err
	}
	server, err := token.Servers.RandomServer()
	if err != nil {
		return fmt.Errorf("pick ws server: %w", err)
	}

	endpoint := fmt.Sprintf("%s?connectId=%d&token=%s", server.Endpoint, time.Now().UnixNano(), token.Token)
	c.pingInterval = time.Duration(server.PingInterval) * time.Millisecond
	if c.pingInterval <= 0 {
		c.pingInterval = 10 * time.Second
	}

	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
		NonVerbose:       true,
	}
	conn.Dial(endpoint, nil)
	c.conn = conn

	go c.read()
	go c.pingLoop()
	return nil
}

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
		if err := c.writeSubscribe(topic); err != nil {
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
	if err := c.conn.WriteJSON(wsMessage{
		ID:    requestID(),
		Type:  "unsubscribe",
		Topic: topic,
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

func (c *StreamClient) writeSubscribe(topic string) error {
	return c.conn.WriteJSON(wsMessage{
		ID:             requestID(),
		Type:           "subscribe",
		Topic:          topic,
		PrivateChannel: false,
		Response:       true,
	})
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

	for !c.conn.IsConnected() {
		select {
		case <-c.done:
			return
		case <-time.After(250 * time.Millisecond):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range c.subscriptions {
		if err := c.writeSubscribe(topic); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (c *StreamClient) dispatch(msg []byte) {
	var frame wsMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		c.log.Debug().Err(err).Msg("unparseable stream frame")
		return
	}

	switch frame.Type {
	case "welcome", "ack", "pong":
		return
	case "ping":
		_ = c.conn.WriteJSON(wsMessage{ID: frame.ID, Type: "pong"})
		return
	case "message":
	default:
		return
	}

	c.mu.Lock()
	entry, ok := c.subscriptions[frame.Topic]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case entry.ch <- frame.Data:
	default:
		c.log.Warn().Str("topic", frame.Topic).Msg("slow consumer, dropping frame")
	}
}

func (c *StreamClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.conn.IsConnected() {
				continue
			}
			if err := c.conn.WriteJSON(wsMessage{ID: requestID(), Type: "ping"}); err != nil {
				c.log.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

func requestID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
