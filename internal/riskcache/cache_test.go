package riskcache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bom-enricher/internal/brokers"
	apperrors "bom-enricher/internal/common/errors"
	"bom-enricher/internal/models"
	"bom-enricher/internal/redis"
)

type captureBroker struct {
	mu      sync.Mutex
	handler brokers.Handler
}

func (b *captureBroker) Name() string                                            { return "capture" }
func (b *captureBroker) Publish(ctx context.Context, msg *brokers.Message) error { return nil }
func (b *captureBroker) Health() error                                           { return nil }
func (b *captureBroker) Close() error                                            { return nil }
func (b *captureBroker) Subscribe(ctx context.Context, topic string, h brokers.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	return nil
}

func (b *captureBroker) deliver(t *testing.T, body []byte) error {
	t.Helper()
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	require.NotNil(t, handler)
	return handler(context.Background(), &brokers.Delivery{ID: "1-0", Topic: "score.calculated", Body: body})
}

func setupCache(t *testing.T) (*Cache, *captureBroker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cache := NewCache(client, time.Hour, nil)
	broker := &captureBroker{}
	require.NoError(t, cache.Run(context.Background(), broker, "score.calculated"))
	return cache, broker, mr
}

func scoreEvent(tenantID, componentID string, total float64) []byte {
	body, _ := json.Marshal(models.ScoreCalculatedEvent{
		EventType:   models.EventScoreCalculated,
		TenantID:    tenantID,
		ComponentID: componentID,
		TotalScore:  total,
		SubScores:   models.SubScores{Completeness: 100, SourceQuality: 90, SpecExtraction: 40, CategoryConfidence: 92},
		Timestamp:   time.Now().UTC(),
	})
	return body
}

func TestCache_ConsumeAndGet(t *testing.T) {
	cache, broker, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-123", 84.2)))

	entry, err := cache.Get(ctx, "T1", "MPN-123")
	require.NoError(t, err)
	assert.Equal(t, 84.2, entry.TotalScore)
	assert.Equal(t, 40.0, entry.SubScores.SpecExtraction)
	assert.False(t, entry.CachedAt.IsZero())

	// Entries carry the configured TTL
	ttl := mr.TTL(Key("T1", "MPN-123"))
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestCache_GetMiss(t *testing.T) {
	cache, _, _ := setupCache(t)

	_, err := cache.Get(context.Background(), "T1", "MPN-404")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestCache_LaterEventOverwrites(t *testing.T) {
	cache, broker, _ := setupCache(t)

	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-123", 62.0)))
	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-123", 84.2)))

	entry, err := cache.Get(context.Background(), "T1", "MPN-123")
	require.NoError(t, err)
	assert.Equal(t, 84.2, entry.TotalScore)
}

func TestCache_MalformedEventDeadLetters(t *testing.T) {
	_, broker, _ := setupCache(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing identity", `{"total_score": 84.2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := broker.deliver(t, []byte(tt.body))
			require.Error(t, err)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestCache_RedisDownIsTransient(t *testing.T) {
	_, broker, mr := setupCache(t)

	mr.Close()
	err := broker.deliver(t, scoreEvent("T1", "MPN-123", 84.2))
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err), "write failures must redeliver, not dead-letter")
}

func TestCache_BatchGet(t *testing.T) {
	cache, broker, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-1", 96.5)))
	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-2", 84.2)))
	require.NoError(t, broker.deliver(t, scoreEvent("T2", "MPN-3", 50.0)))

	entries, err := cache.BatchGet(ctx, "T1", []string{"MPN-1", "MPN-2", "MPN-404"})
	require.NoError(t, err)
	require.Len(t, entries, 2, "misses are absent, not errors")
	assert.Equal(t, 96.5, entries["MPN-1"].TotalScore)
	assert.Equal(t, 84.2, entries["MPN-2"].TotalScore)

	// Tenants never see each other's entries
	assert.NotContains(t, entries, "MPN-3")

	empty, err := cache.BatchGet(ctx, "T1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCache_InvalidateOrg(t *testing.T) {
	cache, broker, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-1", 96.5)))
	require.NoError(t, broker.deliver(t, scoreEvent("T1", "MPN-2", 84.2)))
	require.NoError(t, broker.deliver(t, scoreEvent("T2", "MPN-3", 50.0)))

	deleted, err := cache.InvalidateOrg(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = cache.Get(ctx, "T1", "MPN-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	// The other tenant's entry survives
	assert.True(t, mr.Exists(Key("T2", "MPN-3")))
}

func TestCache_RebuildFromReplay(t *testing.T) {
	cache, broker, _ := setupCache(t)
	ctx := context.Background()

	events := [][]byte{
		scoreEvent("T1", "MPN-1", 96.5),
		scoreEvent("T1", "MPN-2", 84.2),
		scoreEvent("T1", "MPN-2", 91.0), // re-enrichment supersedes
	}
	for _, ev := range events {
		require.NoError(t, broker.deliver(t, ev))
	}

	// Cache wiped; nothing but the topic is needed to rebuild it
	_, err := cache.InvalidateOrg(ctx, "T1")
	require.NoError(t, err)

	for _, ev := range events {
		require.NoError(t, broker.deliver(t, ev))
	}

	entries, err := cache.BatchGet(ctx, "T1", []string{"MPN-1", "MPN-2"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 96.5, entries["MPN-1"].TotalScore)
	assert.Equal(t, 91.0, entries["MPN-2"].TotalScore)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "risk:org:T1:component:MPN-123", Key("T1", "MPN-123"))
}
