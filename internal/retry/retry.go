// Package retry implements the backoff policy used around every fallible
// I/O call in the pipeline. The policy itself is pure: given an attempt
// number and a config it computes a delay, and Do drives the loop. Whether
// an error is worth retrying comes from its explicit retryable
// classification, never from inspecting error classes.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"bom-enricher/internal/common/errors"
)

// Config holds the knobs of a backoff policy.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt, so a
	// permanently failing operation runs MaxRetries+1 times.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps exponential growth.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier (2.0 doubles each delay).
	ExponentialBase float64

	// Jitter randomizes each delay by ±10% to avoid thundering herds.
	Jitter bool
}

// The three presets differ only in retry budget and base delay; call
// sites pick by criticality.

// Fast is for cheap, latency-sensitive calls such as cache writes.
func Fast() Config {
	return Config{
		MaxRetries:      2,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Standard is the general-purpose preset for persistence and broker calls.
func Standard() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        15 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Patient is for expensive external calls worth waiting on, such as
// supplier queries.
func Patient() Config {
	return Config{
		MaxRetries:      5,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Delay computes the backoff before retry number attempt (0-based):
// min(InitialDelay × ExponentialBase^attempt, MaxDelay), jittered ±10%
// when enabled. Pure apart from the jitter randomness.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if capped := float64(c.MaxDelay); base > capped {
		base = capped
	}

	delay := time.Duration(base)
	if c.Jitter && delay > 0 {
		// ±10%
		span := int64(float64(delay) * 0.2)
		delay = delay - time.Duration(span/2) + time.Duration(randomInt64n(span))
	}

	return delay
}

// Do runs op, retrying classified-transient failures with backoff up to
// MaxRetries. Permanent failures propagate immediately regardless of
// remaining budget, and an exhausted budget surfaces the last error
// unchanged. The context cancels waiting between attempts.
func Do(ctx context.Context, config Config, op func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if !errors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt >= config.MaxRetries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(config.Delay(attempt)):
		}
	}
}

// randomInt64n returns a random int64 in [0, n), falling back to
// time-based randomness if crypto/rand fails. Jitter does not need
// cryptographic quality, but crypto/rand avoids seeding concerns.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UnixNano() % n
	}

	val := int64(bytes[0])<<56 | int64(bytes[1])<<48 | int64(bytes[2])<<40 | int64(bytes[3])<<32 |
		int64(bytes[4])<<24 | int64(bytes[5])<<16 | int64(bytes[6])<<8 | int64(bytes[7])

	if val < 0 {
		val = -val
	}

	return val % n
}
