package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
)

// RedisIdempotencyClient is the slice of the Redis client idempotency
// records need: register-once and read-back.
type RedisIdempotencyClient interface {
	SetNXJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// Idempotency provides register-once semantics over the shared key-value
// store. The first completion of a logical operation caches its result
// under `idem:<operation>:<key>`; replays within the TTL return the
// cached result without re-running the guarded side effects.
type Idempotency struct {
	redis  RedisIdempotencyClient
	ttl    time.Duration
	logger logging.Logger
}

// NewIdempotency creates an idempotency guard with the given record TTL.
// After the TTL the key may be reused by a genuinely new attempt.
func NewIdempotency(redisClient RedisIdempotencyClient, ttl time.Duration, logger logging.Logger) *Idempotency {
	return &Idempotency{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "idempotency"}),
	}
}

// IdemKey builds the namespaced Redis key for an idempotency record.
func IdemKey(operation, key string) string {
	return fmt.Sprintf("idem:%s:%s", operation, key)
}

// Lookup fetches a previously cached result into dest. Returns false on
// a miss.
func (i *Idempotency) Lookup(ctx context.Context, operation, key string, dest interface{}) (bool, error) {
	err := i.redis.GetJSON(ctx, IdemKey(operation, key), dest)
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.ConnectionError("idempotency lookup failed", err)
	}
	return true, nil
}

// Register stores the result of a completed operation, unless a result
// is already present. Returns true when this call created the record.
func (i *Idempotency) Register(ctx context.Context, operation, key string, result interface{}) (bool, error) {
	created, err := i.redis.SetNXJSON(ctx, IdemKey(operation, key), result, i.ttl)
	if err != nil {
		return false, errors.ConnectionError("idempotency registration failed", err)
	}
	return created, nil
}

// Do wraps a side-effecting operation with duplicate suppression. When a
// cached result exists it is decoded into dest and the guarded function
// is not invoked; otherwise the function runs, its result is registered,
// and dest receives the fresh value. The returned bool reports whether
// the result was replayed from cache.
//
// Losing a registration race is handled by reading back the winner's
// result, so concurrent duplicates converge on one outcome.
func (i *Idempotency) Do(ctx context.Context, operation, key string, dest interface{}, fn func() (interface{}, error)) (bool, error) {
	if found, err := i.Lookup(ctx, operation, key, dest); err != nil {
		return false, err
	} else if found {
		i.logger.Debug("Idempotent replay",
			logging.String("operation", operation),
			logging.String("key", key),
		)
		return true, nil
	}

	result, err := fn()
	if err != nil {
		return false, err
	}

	created, err := i.Register(ctx, operation, key, result)
	if err != nil {
		return false, err
	}

	if !created {
		// Raced with another worker; their result wins.
		if found, err := i.Lookup(ctx, operation, key, dest); err != nil {
			return false, err
		} else if found {
			return true, nil
		}
		return false, errors.InternalError("idempotency record vanished after race", nil)
	}

	// Round-trip through JSON so dest gets the same shape a replay would.
	data, err := json.Marshal(result)
	if err != nil {
		return false, errors.InternalError("failed to encode idempotent result", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, errors.InternalError("failed to decode idempotent result", err)
	}

	return false, nil
}
