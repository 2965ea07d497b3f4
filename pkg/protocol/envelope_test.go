package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokesync/supersync/pkg/stats"
)

func TestEncodeProducesEnvelope(t *testing.T) {
	data, err := Encode(EventCatch, CatchPayload{ID: 25, Shiny: true, Username: "red"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventCatch, env.Event)

	var payload CatchPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, CatchPayload{ID: 25, Shiny: true, Username: "red"}, payload)
}

func TestAlertOmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(AlertPayload{Message: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hello"}`, string(data))
}

func TestSaveTickCarriesStatisticsTree(t *testing.T) {
	data, err := Encode(EventSaveTick, SaveTickPayload{
		Statistics: stats.Mapping{"clicks": stats.Counter(3)},
		Username:   "blue",
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	var payload SaveTickPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, stats.Counter(3), payload.Statistics["clicks"])
	assert.Equal(t, "blue", payload.Username)
}
