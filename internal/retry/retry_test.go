package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bom-enricher/internal/common/errors"
)

func immediate() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    time.Microsecond,
		MaxDelay:        time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestDelay(t *testing.T) {
	config := Config{
		InitialDelay:    time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped at MaxDelay
		{10, 10 * time.Second},
		{-1, time.Second}, // clamped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, config.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelay_Jitter(t *testing.T) {
	config := Config{
		InitialDelay:    time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}

	for i := 0; i < 50; i++ {
		d := config.Delay(1)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), immediate(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_TransientExhaustsBudget(t *testing.T) {
	final := apperrors.TimeoutError("supplier query", nil)
	calls := 0

	err := Do(context.Background(), immediate(), func() error {
		calls++
		return final
	})

	// 1 initial + MaxRetries retries, last error surfaced unchanged
	assert.Equal(t, 4, calls)
	assert.Same(t, final, err)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0

	err := Do(context.Background(), immediate(), func() error {
		calls++
		return apperrors.ValidationError("missing identifier")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0

	err := Do(context.Background(), immediate(), func() error {
		calls++
		if calls < 3 {
			return apperrors.ConnectionError("flaky", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := Config{
		MaxRetries:      5,
		InitialDelay:    time.Hour, // would block without cancellation
		MaxDelay:        time.Hour,
		ExponentialBase: 2.0,
	}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, config, func() error {
		calls++
		return apperrors.ConnectionError("down", nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPresets(t *testing.T) {
	assert.Less(t, Fast().MaxRetries, Patient().MaxRetries)
	assert.Less(t, Fast().InitialDelay, Patient().InitialDelay)
	assert.Equal(t, 3, Standard().MaxRetries)

	for name, cfg := range map[string]Config{"fast": Fast(), "standard": Standard(), "patient": Patient()} {
		assert.True(t, cfg.Jitter, "%s preset should jitter", name)
		assert.Equal(t, 2.0, cfg.ExponentialBase, name)
	}
}
