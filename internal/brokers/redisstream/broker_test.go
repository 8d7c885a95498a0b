package redisstream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bom-enricher/internal/brokers"
	apperrors "bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
)

func setupBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	broker, err := NewBroker(&Config{
		Address:       mr.Addr(),
		ConsumerGroup: "enrichment-workers",
		ConsumerName:  "worker-1",
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	return broker, mr
}

func waitFor(t *testing.T, ch <-chan *brokers.Delivery) *brokers.Delivery {
	t.Helper()
	select {
	case delivery := <-ch:
		return delivery
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestNewBroker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name: "valid config",
			config: &Config{
				Address:       mr.Addr(),
				ConsumerGroup: "enrichment-workers",
			},
		},
		{
			name:    "missing address",
			config:  &Config{ConsumerGroup: "enrichment-workers"},
			wantErr: "address is required",
		},
		{
			name:    "missing consumer group",
			config:  &Config{Address: mr.Addr()},
			wantErr: "consumer group is required",
		},
		{
			name: "connection failure",
			config: &Config{
				Address:       "localhost:1",
				ConsumerGroup: "enrichment-workers",
				Timeout:       200 * time.Millisecond,
			},
			wantErr: "failed to connect to Redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker, err := NewBroker(tt.config, logging.NewDefaultLogger())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			broker.Close()
		})
	}
}

func TestConfigValidate_FillsDefaults(t *testing.T) {
	config := &Config{Address: "localhost:6379", ConsumerGroup: "workers"}

	require.NoError(t, config.Validate())
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, "workers-consumer", config.ConsumerName)
	assert.Equal(t, time.Minute, config.RedrainInterval)
}

func TestPublishSubscribe(t *testing.T) {
	broker, _ := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		broker.Close()
	}()

	received := make(chan *brokers.Delivery, 1)
	require.NoError(t, broker.Subscribe(ctx, "enrichment.requests", func(ctx context.Context, d *brokers.Delivery) error {
		received <- d
		return nil
	}))

	err := broker.Publish(ctx, &brokers.Message{
		Topic:     "enrichment.requests",
		Headers:   map[string]string{"tenant": "T1"},
		Body:      []byte(`{"business_key":"MPN-123","tenant_id":"T1"}`),
		Timestamp: time.Now(),
		MessageID: "msg-1",
	})
	require.NoError(t, err)

	delivery := waitFor(t, received)
	assert.Equal(t, "enrichment.requests", delivery.Topic)
	assert.JSONEq(t, `{"business_key":"MPN-123","tenant_id":"T1"}`, string(delivery.Body))
	assert.Equal(t, "T1", delivery.Headers["tenant"])
}

func TestSubscribe_PermanentErrorDeadLetters(t *testing.T) {
	broker, mr := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		broker.Close()
	}()

	handled := make(chan *brokers.Delivery, 1)
	require.NoError(t, broker.Subscribe(ctx, "enrichment.requests", func(ctx context.Context, d *brokers.Delivery) error {
		handled <- d
		return apperrors.ValidationError("event missing business_key")
	}))

	require.NoError(t, broker.Publish(ctx, &brokers.Message{
		Topic:     "enrichment.requests",
		Body:      []byte(`{"garbage":true}`),
		Timestamp: time.Now(),
	}))
	waitFor(t, handled)

	// The malformed delivery is copied to the DLQ stream with its reason
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var entries []redis.XMessage
	require.Eventually(t, func() bool {
		var err error
		entries, err = client.XRange(context.Background(), "enrichment.requests.dlq", "-", "+").Result()
		return err == nil && len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond)

	values := entries[0].Values
	assert.Equal(t, "VALIDATION", values["header_"+brokers.HeaderDeadLetterCode])
	assert.Equal(t, "enrichment.requests", values["header_"+brokers.HeaderOriginalTopic])
	assert.JSONEq(t, `{"garbage":true}`, values["body"].(string))
}

func TestSubscribe_TransientErrorRedelivered(t *testing.T) {
	broker, mr := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	attempted := make(chan *brokers.Delivery, 1)
	require.NoError(t, broker.Subscribe(ctx, "enrichment.requests", func(ctx context.Context, d *brokers.Delivery) error {
		attempted <- d
		return apperrors.ConnectionError("redis hiccup", nil)
	}))

	require.NoError(t, broker.Publish(ctx, &brokers.Message{
		Topic:     "enrichment.requests",
		Body:      []byte(`{"business_key":"MPN-123","tenant_id":"T1"}`),
		Timestamp: time.Now(),
	}))
	first := waitFor(t, attempted)

	// Stop this consumer without acknowledging
	cancel()
	broker.Close()

	// A restarted consumer with the same identity drains its pending
	// entries before reading new ones
	restarted, err := NewBroker(&Config{
		Address:       mr.Addr(),
		ConsumerGroup: "enrichment-workers",
		ConsumerName:  "worker-1",
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer func() {
		cancel2()
		restarted.Close()
	}()

	redelivered := make(chan *brokers.Delivery, 1)
	require.NoError(t, restarted.Subscribe(ctx2, "enrichment.requests", func(ctx context.Context, d *brokers.Delivery) error {
		redelivered <- d
		return nil
	}))

	second := waitFor(t, redelivered)
	assert.Equal(t, first.ID, second.ID, "pending delivery must be re-processed after restart")
}

func TestSubscribe_TransientErrorRetriedWithoutRestart(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	broker, err := NewBroker(&Config{
		Address:         mr.Addr(),
		ConsumerGroup:   "enrichment-workers",
		ConsumerName:    "worker-1",
		RedrainInterval: 50 * time.Millisecond,
	}, logging.NewDefaultLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		broker.Close()
	}()

	// First attempt fails transiently, every later one succeeds
	attempts := make(chan *brokers.Delivery, 4)
	var failedOnce int32
	require.NoError(t, broker.Subscribe(ctx, "enrichment.requests", func(ctx context.Context, d *brokers.Delivery) error {
		attempts <- d
		if atomic.CompareAndSwapInt32(&failedOnce, 0, 1) {
			return apperrors.ConnectionError("redis hiccup", nil)
		}
		return nil
	}))

	require.NoError(t, broker.Publish(ctx, &brokers.Message{
		Topic:     "enrichment.requests",
		Body:      []byte(`{"business_key":"MPN-123","tenant_id":"T1"}`),
		Timestamp: time.Now(),
	}))

	// The same consumer re-reads its pending backlog on the next drain;
	// no restart involved
	first := waitFor(t, attempts)
	second := waitFor(t, attempts)
	assert.Equal(t, first.ID, second.ID, "pending delivery retried by the same consumer")

	// Acknowledged on the successful attempt: nothing stays pending
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "enrichment.requests", "enrichment-workers").Result()
		return err == nil && pending.Count == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHealth(t *testing.T) {
	broker, mr := setupBroker(t)
	defer broker.Close()

	assert.NoError(t, broker.Health())

	mr.Close()
	assert.Error(t, broker.Health())
}
