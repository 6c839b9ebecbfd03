package kucoin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeL2UpdateFrame(t *testing.T) {
	data := []byte(`{
		"changes": {
			"asks": [["18906.6", "0.00331", "14103845"]],
			"bids": [["18906.3", "0.32785", "14103844"], ["18906.2", "0", "14103846"]]
		},
		"sequenceEnd": 14103846,
		"sequenceStart": 14103844,
		"symbol": "BTC-USDT",
		"time": 1663747970273
	}`)

	var update depthUpdateModel
	require.NoError(t, json.Unmarshal(data, &update))

	assert.Equal(t, int64(14103844), update.SequenceStart)
	assert.Equal(t, int64(14103846), update.SequenceEnd)
	assert.Equal(t, "BTC-USDT", update.Symbol)
	require.Len(t, update.Changes.Bids, 2)
	assert.Equal(t, "0", update.Changes.Bids[1][1])
}

func TestDecodeSnapshotPayload(t *testing.T) {
	data := []byte(`{
		"sequence": "3262786978",
		"time": 1550653727731,
		"bids": [["6500.12", "0.45054140"]],
		"asks": [["6500.16", "0.57753524"]]
	}`)

	payload := &snapshotPayload{}
	require.NoError(t, json.Unmarshal(data, payload))

	assert.Equal(t, "3262786978", payload.Sequence)
	assert.Len(t, payload.Bids, 1)
	assert.Len(t, payload.Asks, 1)
}

func TestDecodeWsFrameTypes(t *testing.T) {
	frames := map[string]string{
		"welcome": `{"id":"1","type":"welcome"}`,
		"ack":     `{"id":"2","type":"ack"}`,
		"message": `{"type":"message","topic":"/market/level2:BTC-USDT","subject":"trade.l2update","data":{"sequenceStart":1}}`,
	}

	for name, raw := range frames {
		var frame wsMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &frame), name)
		assert.Equal(t, name, frame.Type)
	}
}
