package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/brew/internal/codec"
	"github.com/oriys/brew/internal/shoperr"
)

type widget struct {
	Name  string
	Count int
}

func TestRowToResult_Success(t *testing.T) {
	encoded, err := codec.Encode(widget{Name: "Big Dave", Count: 3})
	require.NoError(t, err)

	result, err := rowToResult[widget](row{Success: true, StatusCode: 200, Output: encoded})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, widget{Name: "Big Dave", Count: 3}, result.Output)
	assert.Nil(t, result.Err)
}

func TestRowToResult_Failure(t *testing.T) {
	schema := shoperr.ErrorSchema{StatusCode: 422, Kind: "OutOfMilk"}
	encoded, err := json.Marshal(schema)
	require.NoError(t, err)

	result, err := rowToResult[widget](row{Success: false, StatusCode: 422, Error: string(encoded)})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, schema, *result.Err)
}

func TestRowToResult_UnparsableErrorFallsBackToUnknown(t *testing.T) {
	result, err := rowToResult[widget](row{Success: false, StatusCode: 500, Error: "not json at all"})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Equal(t, string(shoperr.KindUnknownProcessingError), result.Err.Kind)
	assert.Contains(t, result.Err.Details, "original")
}

func TestTTLEpoch_CapsAtMaxRepresentable(t *testing.T) {
	s := &Store{ttl: 100 * 365 * 24 * time.Hour}
	assert.Equal(t, int64(maxEpochSeconds), s.ttlEpoch())
}

func TestTTLEpoch_NormalDurationUncapped(t *testing.T) {
	s := &Store{ttl: time.Hour}
	epoch := s.ttlEpoch()
	assert.Less(t, epoch, int64(maxEpochSeconds))
	assert.Greater(t, epoch, time.Now().Unix())
}

func TestCacheKey_Namespaced(t *testing.T) {
	assert.Equal(t, "brew:store:t-123", cacheKey("t-123"))
}
