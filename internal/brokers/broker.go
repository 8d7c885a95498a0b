// Package brokers defines the message broker contract the pipeline is
// built on and the wire shapes shared by all implementations. The broker
// must be a durable, replayable log with consumer groups: Redis Streams
// and Kafka qualify, classic work queues do not, because the risk cache
// is rebuilt by replaying the score stream from the beginning.
package brokers

import (
	"context"
	"time"
)

// Message is an outbound message.
type Message struct {
	Topic     string
	Key       string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	MessageID string
}

// Delivery is an inbound message handed to a subscription handler.
type Delivery struct {
	ID        string
	Topic     string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

// Handler processes one delivery. The return value drives acknowledgement:
//
//   - nil: the delivery is acknowledged.
//   - permanent error (IsRetryable == false): the delivery is copied to
//     the topic's dead-letter stream and then acknowledged; it will not
//     be redelivered.
//   - transient error: the delivery is left unacknowledged and will be
//     redelivered.
type Handler func(ctx context.Context, delivery *Delivery) error

// Broker is the uniform contract over message transports.
type Broker interface {
	Name() string
	Publish(ctx context.Context, message *Message) error

	// Subscribe starts consuming the topic in the background until ctx is
	// cancelled. It returns once the subscription is established.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	Health() error
	Close() error
}

// DeadLetterTopic returns the dead-letter stream for a topic.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// Dead-letter headers attached to quarantined deliveries.
const (
	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderDeadLetterCode   = "x-dead-letter-code"
	HeaderOriginalTopic    = "x-original-topic"
	HeaderOriginalID       = "x-original-id"
)
