// Package riskcache maintains the risk score read model: a Redis cache
// of per-component quality scores, populated by consuming score events.
// The cache is derived state; losing it costs latency, never
// correctness, and replaying the score topic rebuilds it.
package riskcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/models"
	"bom-enricher/internal/redis"
)

const keyPrefix = "risk:org:"

// Key returns the cache key for one tenant's component score.
func Key(tenantID, componentID string) string {
	return fmt.Sprintf("%s%s:component:%s", keyPrefix, tenantID, componentID)
}

// Cache is the risk score read model over Redis.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

// NewCache creates the read model with the given entry TTL.
func NewCache(redisClient *redis.Client, ttl time.Duration, logger logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Cache{redis: redisClient, ttl: ttl, logger: logger}
}

// Run subscribes the cache to the score topic. Returns once the
// subscription is established.
func (c *Cache) Run(ctx context.Context, broker brokers.Broker, topic string) error {
	c.logger.Info("Risk cache subscribing",
		logging.Field{Key: "topic", Value: topic},
	)
	return broker.Subscribe(ctx, topic, c.handle)
}

// handle consumes one score event. Unparseable events are permanent:
// they dead-letter rather than block the topic.
func (c *Cache) handle(ctx context.Context, delivery *brokers.Delivery) error {
	var event models.ScoreCalculatedEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return errors.ValidationError("unparseable score event: " + err.Error()).
			WithContext("message_id", delivery.ID)
	}
	if event.TenantID == "" || event.ComponentID == "" {
		return errors.ValidationError("score event missing tenant or component identity").
			WithContext("message_id", delivery.ID)
	}

	entry := &models.CachedRiskEntry{
		TenantID:    event.TenantID,
		ComponentID: event.ComponentID,
		TotalScore:  event.TotalScore,
		SubScores:   event.SubScores,
		CachedAt:    time.Now().UTC(),
	}
	if err := c.redis.Set(ctx, Key(event.TenantID, event.ComponentID), entry, c.ttl); err != nil {
		// Transient: leave the delivery unacknowledged so the entry is
		// written on redelivery
		return errors.ConnectionError("failed to write risk cache entry", err).
			WithContext("component_id", event.ComponentID)
	}
	return nil
}

// Get returns one cached entry, or a NotFoundError on a cache miss.
// Callers treat a miss as "no cached risk data", not as an absent
// component.
func (c *Cache) Get(ctx context.Context, tenantID, componentID string) (*models.CachedRiskEntry, error) {
	var entry models.CachedRiskEntry
	err := c.redis.GetJSON(ctx, Key(tenantID, componentID), &entry)
	if err == redis.Nil {
		return nil, errors.NotFoundError("risk entry for component " + componentID)
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read risk cache", err).
			WithContext("component_id", componentID)
	}
	return &entry, nil
}

// BatchGet returns the cached entries for the requested components in a
// single round trip. Missing components are simply absent from the
// result; a partial cache is normal.
func (c *Cache) BatchGet(ctx context.Context, tenantID string, componentIDs []string) (map[string]*models.CachedRiskEntry, error) {
	if len(componentIDs) == 0 {
		return map[string]*models.CachedRiskEntry{}, nil
	}

	keys := make([]string, len(componentIDs))
	for i, id := range componentIDs {
		keys[i] = Key(tenantID, id)
	}

	values, err := c.redis.MGet(ctx, keys...)
	if err != nil {
		return nil, errors.ConnectionError("failed to batch read risk cache", err).
			WithContext("tenant_id", tenantID)
	}

	entries := make(map[string]*models.CachedRiskEntry, len(componentIDs))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry models.CachedRiskEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.logger.Warn("Dropping corrupt risk cache entry",
				logging.Field{Key: "key", Value: keys[i]},
			)
			continue
		}
		entries[entry.ComponentID] = &entry
	}
	return entries, nil
}

// InvalidateOrg removes every cached entry for a tenant and returns the
// number of entries dropped. Subsequent reads miss until new score
// events repopulate the cache.
func (c *Cache) InvalidateOrg(ctx context.Context, tenantID string) (int, error) {
	deleted, err := c.redis.ScanDelete(ctx, keyPrefix+tenantID+":*")
	if err != nil {
		return 0, errors.ConnectionError("failed to invalidate risk cache", err).
			WithContext("tenant_id", tenantID)
	}
	c.logger.Info("Invalidated tenant risk cache",
		logging.Field{Key: "tenant_id", Value: tenantID},
		logging.Field{Key: "entries", Value: deleted},
	)
	return deleted, nil
}
