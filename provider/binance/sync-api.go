package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/domain"
)

var ErrTimeout = errors.New("binance: ws-api response timeout")

const responseTimeout = 10 * time.Second

type genericMessage[T any] struct {
	ID     int `json:"id"`
	Status int `json:"status"`
	Result T   `json:"result"`
}

type depthResult struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// SyncAPI serves request/response calls over binance's websocket API.
// Responses are matched to requests by id.
type SyncAPI struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
	in         chan []byte
	log        zerolog.Logger
}

func NewSyncAPI(endpoint string, log zerolog.Logger) (*SyncAPI, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws-api: %w", err)
	}

	api := &SyncAPI{
		conn: conn,
		in:   make(chan []byte, 16),
		log:  log.With().Str("component", "binance-sync-api").Logger(),
	}
	go api.listener()
	return api, nil
}

// OrderBookSnapshot fetches a depth snapshot for the symbol. The
// returned event carries raw level strings; parsing happens in the
// book sync where malformed levels are counted.
func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (domain.SnapshotEvent, error) {
	reqID := randomReqID()

	api.writeMutex.Lock()
	err := api.conn.WriteJSON(map[string]interface{}{
		"method": "depth",
		"id":     reqID,
		"params": map[string]interface{}{
			"symbol": strings.ToUpper(symbol.Join("")),
			"limit":  fmt.Sprintf("%d", limit),
		},
	})
	api.writeMutex.Unlock()
	if err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("request depth snapshot: %w", err)
	}

	msg, err := api.waitForResponse(reqID)
	if err != nil {
		return domain.SnapshotEvent{}, err
	}

	var response genericMessage[depthResult]
	if err := json.Unmarshal(msg, &response); err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("decode depth snapshot: %w", err)
	}
	if response.Status != 200 {
		return domain.SnapshotEvent{}, fmt.Errorf("depth snapshot rejected with status %d", response.Status)
	}

	return domain.SnapshotEvent{
		LastUpdateID: response.Result.LastUpdateID,
		Bids:         response.Result.Bids,
		Asks:         response.Result.Asks,
	}, nil
}

func (api *SyncAPI) Close() error {
	return api.conn.Close()
}

func (api *SyncAPI) listener() {
	defer close(api.in)
	for {
		_, message, err := api.conn.ReadMessage()
		if err != nil {
			api.log.Debug().Err(err).Msg("ws-api listener stopped")
			return
		}
		api.in <- message
	}
}

func (api *SyncAPI) waitForResponse(reqID int) ([]byte, error) {
	deadline := time.After(responseTimeout)
	for {
		select {
		case msg, ok := <-api.in:
			if !ok {
				return nil, errors.New("binance: ws-api connection closed")
			}
			var envelope struct {
				ID *int `json:"id"`
			}
			if err := json.Unmarshal(msg, &envelope); err != nil {
				return nil, fmt.Errorf("decode ws-api frame: %w", err)
			}
			if envelope.ID == nil || *envelope.ID != reqID {
				continue
			}
			return msg, nil

		case <-deadline:
			return nil, ErrTimeout
		}
	}
}
