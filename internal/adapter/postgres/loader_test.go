package postgres

import (
	"testing"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationRow_MatchesColumns(t *testing.T) {
	fetched := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	row := observationRow("run-1", domain.Observation{
		Date:       time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		DataType:   "TMIN",
		Station:    "GHCND:USC00110072",
		Attributes: ",,7,",
		Value:      -4.4,
		FetchedAt:  fetched,
	})

	require.Len(t, row, len(observationColumns))
	assert.Equal(t, "run-1", row[0])
	assert.Equal(t, "GHCND:USC00110072", row[2])
	assert.Equal(t, "TMIN", row[3])
	assert.InDelta(t, -4.4, row[4], 1e-9)
	assert.Equal(t, fetched, row[6])
}

func TestYieldRow_SuppressedValueIsNull(t *testing.T) {
	reported := yieldRow("run-1", domain.YieldRecord{Year: 2020, Commodity: "CORN", Value: 214.7})
	require.Len(t, reported, len(yieldColumns))
	require.NotNil(t, reported[10])
	assert.InDelta(t, 214.7, *reported[10].(*float64), 1e-9)

	suppressed := yieldRow("run-1", domain.YieldRecord{Year: 2021, Commodity: "CORN", Suppressed: true, ValueCode: "(D)"})
	assert.Nil(t, suppressed[10].(*float64))
	assert.Equal(t, "(D)", suppressed[11])
}
