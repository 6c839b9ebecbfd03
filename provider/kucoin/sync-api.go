package kucoin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/rs/zerolog"

	"github.com/quantora/go-liquidity-bridge/config"
	"github.com/quantora/go-liquidity-bridge/domain"
)

type snapshotPayload struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

// SyncAPI wraps kucoin's REST surface: snapshot fetches and websocket
// connection bootstrapping (the stream endpoint and token are handed
// out by the REST API).
type SyncAPI struct {
	apiService *kucoin.ApiService
	log        zerolog.Logger
}

func NewSyncAPI(cfg config.KucoinConfig, log zerolog.Logger) *SyncAPI {
	return &SyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiBaseURIOption(cfg.BaseURL),
			kucoin.ApiKeyOption(cfg.APIKey),
			kucoin.ApiSecretOption(cfg.SecretKey),
			kucoin.ApiPassPhraseOption(cfg.Passphrase),
		),
		log: log.With().Str("component", "kucoin-sync-api").Logger(),
	}
}

// WsConnOpts asks the REST API for a public websocket token and the
// instance servers to dial.
func (api *SyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("request ws token: %w", err)
	}

	token := &kucoin.WebSocketTokenModel{}
	if err := json.Unmarshal(resp.RawData, token); err != nil {
		return nil, fmt.Errorf("decode ws token: %w, response: %s", err, resp.Message)
	}
	return token, nil
}

func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol) (domain.SnapshotEvent, error) {
	s := strings.ToUpper(symbol.Join("-"))
	resp, err := api.apiService.AggregatedFullOrderBookV3(s)
	if err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("request book snapshot: %w", err)
	}

	payload := &snapshotPayload{}
	if err := json.Unmarshal(resp.RawData, payload); err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("decode book snapshot: %w", err)
	}

	// The snapshot sequence is the cursor the l2update stream chains from.
	sequence, err := strconv.ParseInt(payload.Sequence, 10, 64)
	if err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("parse snapshot sequence %q: %w", payload.Sequence, err)
	}

	return domain.SnapshotEvent{
		LastUpdateID: sequence,
		Bids:         payload.Bids,
		Asks:         payload.Asks,
	}, nil
}
