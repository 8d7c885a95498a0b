package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/redis"
)

type attemptResult struct {
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

func setupIdempotency(t *testing.T) (*Idempotency, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewIdempotency(client, time.Hour, logging.NewDefaultLogger()), mr
}

func TestIdempotency_Do_FirstRun(t *testing.T) {
	idem, _ := setupIdempotency(t)

	calls := 0
	var got attemptResult

	replayed, err := idem.Do(context.Background(), "enrich", "MPN-123", &got, func() (interface{}, error) {
		calls++
		return attemptResult{Status: "approved", Score: 87.5}, nil
	})

	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, attemptResult{Status: "approved", Score: 87.5}, got)
}

func TestIdempotency_Do_Replay(t *testing.T) {
	idem, _ := setupIdempotency(t)
	ctx := context.Background()

	calls := 0
	run := func() (interface{}, error) {
		calls++
		return attemptResult{Status: "approved", Score: 87.5}, nil
	}

	var first attemptResult
	_, err := idem.Do(ctx, "enrich", "MPN-123", &first, run)
	require.NoError(t, err)

	var second attemptResult
	replayed, err := idem.Do(ctx, "enrich", "MPN-123", &second, run)

	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, 1, calls, "guarded operation must run exactly once")
	assert.Equal(t, first, second)
}

func TestIdempotency_Do_ErrorNotCached(t *testing.T) {
	idem, _ := setupIdempotency(t)
	ctx := context.Background()

	calls := 0
	var got attemptResult

	_, err := idem.Do(ctx, "enrich", "MPN-123", &got, func() (interface{}, error) {
		calls++
		return nil, apperrors.UpstreamError("supplier 503", nil)
	})
	require.Error(t, err)

	// A failed attempt leaves no record, so a retry re-runs the operation
	replayed, err := idem.Do(ctx, "enrich", "MPN-123", &got, func() (interface{}, error) {
		calls++
		return attemptResult{Status: "approved"}, nil
	})

	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_TTLExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	idem := NewIdempotency(client, time.Second, logging.NewDefaultLogger())
	ctx := context.Background()

	calls := 0
	run := func() (interface{}, error) {
		calls++
		return attemptResult{Status: "approved"}, nil
	}

	var got attemptResult
	_, err = idem.Do(ctx, "enrich", "MPN-123", &got, run)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	// After the bounded window the key is reusable for a new attempt
	replayed, err := idem.Do(ctx, "enrich", "MPN-123", &got, run)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_RegisterLookup(t *testing.T) {
	idem, _ := setupIdempotency(t)
	ctx := context.Background()

	created, err := idem.Register(ctx, "enrich", "MPN-1", attemptResult{Status: "approved"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = idem.Register(ctx, "enrich", "MPN-1", attemptResult{Status: "rejected"})
	require.NoError(t, err)
	assert.False(t, created)

	var got attemptResult
	found, err := idem.Lookup(ctx, "enrich", "MPN-1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "approved", got.Status)

	found, err = idem.Lookup(ctx, "enrich", "unknown", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdemKey(t *testing.T) {
	assert.Equal(t, "idem:enrich:MPN-123", IdemKey("enrich", "MPN-123"))
}
