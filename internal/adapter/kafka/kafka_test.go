package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeToMessage(t *testing.T) {
	fetched := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	obs := domain.Observation{
		Date:       time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		DataType:   "TMAX",
		Station:    "GHCND:USC00110072",
		Attributes: ",,7,",
		Value:      3.3,
		FetchedAt:  fetched,
		Raw:        json.RawMessage(`{"ignored":true}`),
	}

	msg, err := serializeToMessage("run-1", obs)
	require.NoError(t, err)

	assert.Equal(t, []byte("GHCND:USC00110072|2020-01-02|TMAX"), msg.Key)
	assert.JSONEq(t, `{
		"date": "2020-01-02T00:00:00Z",
		"datatype": "TMAX",
		"station": "GHCND:USC00110072",
		"attributes": ",,7,",
		"value": 3.3,
		"fetched_at": "2024-04-26T15:10:00Z"
	}`, string(msg.Value))

	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "datatype", msg.Headers[0].Key)
	assert.Equal(t, []byte("TMAX"), msg.Headers[0].Value)
	assert.Equal(t, "run_id", msg.Headers[1].Key)
	assert.Equal(t, []byte("run-1"), msg.Headers[1].Value)
	assert.Equal(t, "fetched_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(fetched.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestSerializeToMessage_OmitsEmptyAttributes(t *testing.T) {
	msg, err := serializeToMessage("run-2", domain.Observation{DataType: "PRCP", Station: "GHCND:X"})
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Value), "attributes")
}
