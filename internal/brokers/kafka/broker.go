// Package kafka implements the broker contract on Apache Kafka via
// confluent-kafka-go. Offsets are committed manually after the handler
// decides the delivery's fate, so acknowledgement semantics match the
// Redis Streams implementation: commit on success or dead-letter, hold
// the offset on transient failure so the partition is re-read.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
)

// Broker implements brokers.Broker on Kafka.
type Broker struct {
	config   *Config
	producer *kafka.Producer
	logger   logging.Logger
	wg       sync.WaitGroup

	mu        sync.Mutex
	consumers []*kafka.Consumer
}

// NewBroker creates the producer side eagerly; consumers are created per
// subscription because each needs its own partition assignment.
func NewBroker(config *Config, logger logging.Logger) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid Kafka config: %v", err))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	producer, err := kafka.NewProducer(config.configMap(config.ClientID))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}

	return &Broker{
		config:   config,
		producer: producer,
		logger:   logger,
	}, nil
}

// configMap builds the librdkafka configuration shared by producer and
// consumers.
func (c *Config) configMap(clientID string) *kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers":  c.BootstrapServers(),
		"client.id":          clientID,
		"group.id":           c.GroupID,
		"session.timeout.ms": 6000,
		"auto.offset.reset":  "earliest",
	}
	if c.SecurityProtocol != "PLAINTEXT" {
		m["security.protocol"] = c.SecurityProtocol
	}
	if c.SASLMechanism != "" {
		m["sasl.mechanism"] = c.SASLMechanism
		m["sasl.username"] = c.SASLUsername
		m["sasl.password"] = c.SASLPassword
	}
	return &m
}

func (b *Broker) Name() string {
	return "kafka"
}

// Publish produces the message and waits for delivery confirmation.
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	topic := message.Topic

	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:       []byte(message.Key),
		Value:     message.Body,
		Timestamp: message.Timestamp,
	}
	for key, value := range message.Headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{
			Key:   key,
			Value: []byte(value),
		})
	}
	if message.MessageID != "" {
		kafkaMsg.Headers = append(kafkaMsg.Headers, kafka.Header{
			Key:   "message_id",
			Value: []byte(message.MessageID),
		})
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := b.producer.Produce(kafkaMsg, deliveryChan); err != nil {
		return errors.ConnectionError("failed to produce Kafka message", err).
			WithContext("topic", topic)
	}

	select {
	case e := <-deliveryChan:
		m := e.(*kafka.Message)
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("Kafka delivery failed", m.TopicPartition.Error).
				WithContext("topic", topic)
		}
		b.logger.Debug("Message delivered to Kafka",
			logging.Field{Key: "topic", Value: topic},
			logging.Field{Key: "partition", Value: m.TopicPartition.Partition},
			logging.Field{Key: "offset", Value: m.TopicPartition.Offset},
		)
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("kafka publish", ctx.Err()).WithContext("topic", topic)
	}
}

// Subscribe creates a dedicated consumer for the topic and consumes until
// ctx is cancelled. Offsets are committed explicitly, never auto.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	configMap := b.config.configMap(b.config.ClientID + "-consumer")
	(*configMap)["enable.auto.commit"] = false

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return errors.ConnectionError("failed to create Kafka consumer", err)
	}
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return errors.ConnectionError(fmt.Sprintf("failed to subscribe to topic %s", topic), err)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(ctx, consumer, topic, handler)
	return nil
}

func (b *Broker) consume(ctx context.Context, consumer *kafka.Consumer, topic string, handler brokers.Handler) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Kafka subscription stopped",
				logging.Field{Key: "topic", Value: topic},
				logging.Field{Key: "consumer_group", Value: b.config.GroupID},
			)
			return
		default:
		}

		msg, err := consumer.ReadMessage(100 * time.Millisecond)
		if err != nil {
			if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			b.logger.Error("Kafka consumer read failed", err,
				logging.Field{Key: "topic", Value: topic},
			)
			time.Sleep(time.Second)
			continue
		}

		delivery := decodeDelivery(topic, msg)

		handlerErr := handler(ctx, delivery)
		if handlerErr != nil && errors.IsRetryable(handlerErr) {
			// Do not commit; seek back so the partition replays from here
			b.logger.Warn("Transient handler failure, delivery will be retried",
				logging.Field{Key: "topic", Value: topic},
				logging.Field{Key: "message_id", Value: delivery.ID},
				logging.Field{Key: "error", Value: handlerErr.Error()},
			)
			if err := consumer.Seek(msg.TopicPartition, 0); err != nil {
				b.logger.Error("Failed to rewind Kafka partition", err,
					logging.Field{Key: "topic", Value: topic},
				)
			}
			time.Sleep(time.Second)
			continue
		}

		if handlerErr != nil {
			b.deadLetter(ctx, topic, delivery, handlerErr)
		}

		if _, err := consumer.CommitMessage(msg); err != nil {
			b.logger.Error("Failed to commit Kafka offset", err,
				logging.Field{Key: "topic", Value: topic},
				logging.Field{Key: "message_id", Value: delivery.ID},
			)
		}
	}
}

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
		b.logger.Error("Failed to dead-letter Kafka message", err,
			logging.Field{Key: "topic", Value: topic},
			logging.Field{Key: "message_id", Value: delivery.ID},
		)
		return
	}

	b.logger.Warn("Message dead-lettered",
		logging.Field{Key: "topic", Value: topic},
		logging.Field{Key: "dlq", Value: brokers.DeadLetterTopic(topic)},
		logging.Field{Key: "message_id", Value: delivery.ID},
		logging.Field{Key: "code", Value: errors.Code(cause)},
	)
}

func decodeDelivery(topic string, msg *kafka.Message) *brokers.Delivery {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	return &brokers.Delivery{
		ID: fmt.Sprintf("%s-%d-%d",
			*msg.TopicPartition.Topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset),
		Topic:     topic,
		Headers:   headers,
		Body:      msg.Value,
		Timestamp: msg.Timestamp,
	}
}

// Health checks broker connectivity via cluster metadata.
func (b *Broker) Health() error {
	metadata, err := b.producer.GetMetadata(nil, false, int(b.config.Timeout.Milliseconds()))
	if err != nil {
		return errors.ConnectionError("failed to get Kafka metadata", err)
	}
	if len(metadata.Brokers) == 0 {
		return errors.ConnectionError("no Kafka brokers available", nil)
	}
	return nil
}

// Close waits for consumers to stop, then closes them and the producer.
// Cancel subscription contexts before calling Close.
func (b *Broker) Close() error {
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, consumer := range b.consumers {
		if err := consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.consumers = nil

	b.producer.Flush(int(b.config.Timeout.Milliseconds()))
	b.producer.Close()
	return firstErr
}
