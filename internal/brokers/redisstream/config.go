package redisstream

import (
	"fmt"
	"time"
)

// Config holds Redis Streams broker settings.
type Config struct {
	Address       string
	Password      string
	DB            int
	PoolSize      int
	Timeout       time.Duration
	StreamMaxLen  int64 // maximum stream length, 0 = unbounded
	ConsumerGroup string
	ConsumerName  string

	// RedrainInterval is how often the consumer re-reads its own pending
	// entries, so a delivery left unacknowledged by a transient failure
	// is retried without waiting for a process restart.
	RedrainInterval time.Duration
}

// Validate checks required fields and fills defaults in place.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("Redis address is required")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer group is required")
	}

	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.StreamMaxLen < 0 {
		c.StreamMaxLen = 0
	}
	if c.ConsumerName == "" {
		c.ConsumerName = c.ConsumerGroup + "-consumer"
	}
	if c.RedrainInterval <= 0 {
		c.RedrainInterval = time.Minute
	}

	return nil
}
