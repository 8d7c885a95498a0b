// Package redis wraps the shared key-value store used for distributed
// coordination: locks, idempotency records, workflow checkpoints and the
// risk cache all live here. Every conditional write goes through an atomic
// primitive (SETNX or a Lua compare script) so concurrent workers never
// race each other.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Nil is re-exported so callers can detect cache misses without importing
// go-redis directly.
const Nil = redis.Nil

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// GetGoRedisClient exposes the underlying go-redis client for libraries
// that need their own pool, such as redsync.
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

// releaseScript deletes a lock key only when its value matches the owner
// token. Returns 1 when the key was deleted, 0 otherwise.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript refreshes a lock's expiry only for its current owner.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// AcquireLock attempts an atomic set-if-absent-with-expiry on the given
// key, storing the caller's owner token. Returns true when the lock was
// acquired, false when another owner holds it.
func (c *Client) AcquireLock(ctx context.Context, key, token string, expiration time.Duration) (bool, error) {
	acquired, err := c.rdb.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return acquired, nil
}

// ReleaseLock performs a compare-and-delete: the key is removed only when
// it still holds the caller's token. Returns false when the lock was held
// by someone else (or already expired); the caller must treat that as a
// no-op, never force-delete.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return deleted == 1, nil
}

// ExtendLock refreshes the expiry of a lock the caller still owns.
// Returns false when the token no longer matches.
func (c *Client) ExtendLock(ctx context.Context, key, token string, expiration time.Duration) (bool, error) {
	extended, err := extendScript.Run(ctx, c.rdb, []string{key}, token, expiration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}
	return extended == 1, nil
}

// SetNXJSON registers a value under a key only if the key is absent,
// with an expiry. This is the register-once primitive behind idempotency
// records. Returns true when this call created the key.
func (c *Client) SetNXJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	created, err := c.rdb.SetNX(ctx, key, data, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to register key: %w", err)
	}
	return created, nil
}

// Set stores a value with an expiry. Non-string values are JSON encoded.
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	return c.rdb.Set(ctx, key, data, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// GetJSON fetches a key and decodes it into dest. Returns redis.Nil on a
// miss, which callers should treat as "not found" rather than an error.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// MGetJSON fetches multiple keys in one round trip, decoding each present
// value into a fresh T via the decode callback. Missing keys are skipped.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return c.rdb.MGet(ctx, keys...).Result()
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.rdb.Exists(ctx, key).Result()
	return count > 0, err
}

// ScanKeys iterates the keyspace with SCAN (never KEYS, which would block
// the server) and returns all keys matching the pattern.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// ScanDelete removes all keys matching the pattern in batches, returning
// the number of keys deleted.
func (c *Client) ScanDelete(ctx context.Context, pattern string) (int, error) {
	keys, err := c.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += 100 {
		end := start + 100
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return deleted, fmt.Errorf("failed to delete scanned keys: %w", err)
		}
		deleted += end - start
	}

	return deleted, nil
}
