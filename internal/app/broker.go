package app

import (
	"fmt"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/brokers/kafka"
	"bom-enricher/internal/brokers/redisstream"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/config"
)

// streamMaxLen bounds Redis Streams topics so an idle consumer group
// cannot grow a stream without limit. Kafka manages retention itself.
const streamMaxLen = 100_000

// buildBroker selects the broker implementation. Both satisfy the same
// durable-log contract; config picks one per deployment.
func buildBroker(cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
	switch cfg.BrokerType {
	case "kafka":
		broker, err := kafka.NewBroker(&kafka.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ConsumerGroup,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build Kafka broker: %w", err)
		}
		return broker, nil
	default:
		broker, err := redisstream.NewBroker(&redisstream.Config{
			Address:       cfg.RedisAddress,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			PoolSize:      cfg.RedisPoolSize,
			StreamMaxLen:  streamMaxLen,
			ConsumerGroup: cfg.ConsumerGroup,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build Redis Streams broker: %w", err)
		}
		return broker, nil
	}
}
