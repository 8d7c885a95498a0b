// Package redisstream implements the broker contract on Redis Streams
// with consumer groups. Streams give the pipeline what it needs from a
// broker: durable append-only topics, per-group delivery, explicit acks,
// and replay from any offset.
package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
)

// Broker implements brokers.Broker on Redis Streams.
type Broker struct {
	config *Config
	client *redis.Client
	logger logging.Logger
	wg     sync.WaitGroup
}

// NewBroker connects to Redis and verifies the connection.
func NewBroker(config *Config, logger logging.Logger) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid Redis broker config: %v", err))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}

	return &Broker{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

func (b *Broker) Name() string {
	return "redis"
}

// Publish appends the message to the topic's stream.
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	fields := map[string]interface{}{
		"body":       string(message.Body),
		"message_id": message.MessageID,
		"timestamp":  message.Timestamp.UnixNano(),
	}
	if message.Key != "" {
		fields["key"] = message.Key
	}
	for key, value := range message.Headers {
		fields["header_"+key] = value
	}

	args := &redis.XAddArgs{
		Stream: message.Topic,
		ID:     "*",
		Values: fields,
	}
	if b.config.StreamMaxLen > 0 {
		args.MaxLen = b.config.StreamMaxLen
		args.Approx = true
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.ConnectionError("failed to publish to Redis stream", err).
			WithContext("stream", message.Topic)
	}

	b.logger.Debug("Message published to Redis stream",
		logging.Field{Key: "stream", Value: message.Topic},
		logging.Field{Key: "id", Value: id},
	)
	return nil
}

// Subscribe joins the consumer group on the topic and consumes until ctx
// is cancelled. The group is created if missing. On startup the consumer
// first drains its own pending entries, so deliveries that were in flight
// when a previous process crashed are re-processed before new ones; the
// drain then repeats periodically to pick up entries left pending by
// transient handler failures.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.ConnectionError("failed to create consumer group", err).
			WithContext("stream", topic)
	}

	b.wg.Add(1)
	go b.consume(ctx, topic, handler)
	return nil
}

// drainBackoff paces pending re-reads while every entry in the backlog
// is failing transiently, so the drain does not spin hot on a delivery
// that cannot succeed yet.
const drainBackoff = time.Second

func (b *Broker) consume(ctx context.Context, topic string, handler brokers.Handler) {
	defer b.wg.Done()

	// "0" reads this consumer's pending entries; once drained, ">" reads
	// new deliveries. The drain repeats every RedrainInterval so an entry
	// left pending by a transient failure is retried in-process.
	readID := "0"
	lastDrain := time.Now()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Redis subscription stopped",
				logging.Field{Key: "stream", Value: topic},
				logging.Field{Key: "consumer_group", Value: b.config.ConsumerGroup},
			)
			return
		default:
		}

		if readID == ">" && time.Since(lastDrain) >= b.config.RedrainInterval {
			readID = "0"
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.ConsumerGroup,
			Consumer: b.config.ConsumerName,
			Streams:  []string{topic, readID},
			Count:    10,
			Block:    100 * time.Millisecond,
		}).Result()

		if err != nil {
			if err == redis.Nil || err == context.Canceled || ctx.Err() != nil {
				continue
			}
			b.logger.Error("Redis consumer read failed", err,
				logging.Field{Key: "stream", Value: topic},
			)
			time.Sleep(time.Second)
			continue
		}

		delivered, acked := 0, 0
		for _, stream := range streams {
			for _, message := range stream.Messages {
				delivered++
				if b.handleDelivery(ctx, topic, message, handler) {
					acked++
				}
			}
		}

		if readID == "0" {
			switch {
			case delivered == 0:
				// Pending backlog drained; switch to new deliveries
				readID = ">"
				lastDrain = time.Now()
			case acked == 0:
				time.Sleep(drainBackoff)
			}
		}
	}
}

// handleDelivery runs the handler and settles the message. It reports
// whether the message was acknowledged; a transient failure leaves it
// pending for the next drain.
func (b *Broker) handleDelivery(ctx context.Context, topic string, message redis.XMessage, handler brokers.Handler) bool {
	delivery := decodeDelivery(topic, message)

	err := handler(ctx, delivery)
	if err == nil {
		b.ack(ctx, topic, message.ID)
		return true
	}

	if errors.IsRetryable(err) {
		// Left unacknowledged; stays pending and is redelivered
		b.logger.Warn("Transient handler failure, delivery will be retried",
			logging.Field{Key: "stream", Value: topic},
			logging.Field{Key: "message_id", Value: message.ID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return false
	}

	b.deadLetter(ctx, topic, delivery, err)
	b.ack(ctx, topic, message.ID)
	return true
}

func (b *Broker) ack(ctx context.Context, topic, id string) {
	if err := b.client.XAck(ctx, topic, b.config.ConsumerGroup, id).Err(); err != nil {
		b.logger.Error("Failed to acknowledge Redis message", err,
			logging.Field{Key: "stream", Value: topic},
			logging.Field{Key: "message_id", Value: id},
		)
	}
}

// deadLetter copies a permanently failed delivery to the topic's DLQ
// stream. A DLQ publish failure is logged; the delivery is still acked,
// because redelivering a permanently bad payload can never succeed.
func (b *Broker) deadLetter(ctx context.Context, topic string, delivery *brokers.Delivery, cause error) {
	headers := map[string]string{
		brokers.HeaderDeadLetterReason: cause.Error(),
		brokers.HeaderDeadLetterCode:   errors.Code(cause),
		brokers.HeaderOriginalTopic:    topic,
		brokers.HeaderOriginalID:       delivery.ID,
	}
	for key, value := range delivery.Headers {
		headers[key] = value
	}

	err := b.Publish(ctx, &brokers.Message{
		Topic:     brokers.DeadLetterTopic(topic),
		Headers:   headers,
		Body:      delivery.Body,
		Timestamp: time.Now(),
		MessageID: delivery.ID,
	})
	if err != nil {
		b.logger.Error("Failed to dead-letter message", err,
			logging.Field{Key: "stream", Value: topic},
			logging.Field{Key: "message_id", Value: delivery.ID},
		)
		return
	}

	b.logger.Warn("Message dead-lettered",
		logging.Field{Key: "stream", Value: topic},
		logging.Field{Key: "dlq", Value: brokers.DeadLetterTopic(topic)},
		logging.Field{Key: "message_id", Value: delivery.ID},
		logging.Field{Key: "code", Value: errors.Code(cause)},
	)
}

func decodeDelivery(topic string, message redis.XMessage) *brokers.Delivery {
	headers := make(map[string]string)
	var body []byte
	timestamp := time.Now()

	for field, value := range message.Values {
		raw := fmt.Sprintf("%v", value)
		switch {
		case field == "body":
			body = []byte(raw)
		case field == "timestamp":
			if ns, err := strconv.ParseInt(raw, 10, 64); err == nil && ns > 0 {
				timestamp = time.Unix(0, ns)
			}
		case strings.HasPrefix(field, "header_"):
			headers[strings.TrimPrefix(field, "header_")] = raw
		}
	}

	return &brokers.Delivery{
		ID:        message.ID,
		Topic:     topic,
		Headers:   headers,
		Body:      body,
		Timestamp: timestamp,
	}
}

// Health pings Redis.
func (b *Broker) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close waits for consumer goroutines to stop and closes the connection.
// Cancel subscription contexts before calling Close.
func (b *Broker) Close() error {
	b.wg.Wait()
	return b.client.Close()
}
