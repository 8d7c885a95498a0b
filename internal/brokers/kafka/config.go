package kafka

import (
	"fmt"
	"strings"
	"time"
)

// Config holds Kafka broker settings.
type Config struct {
	Brokers          []string
	ClientID         string
	GroupID          string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Timeout          time.Duration
}

// Validate checks required fields and fills defaults in place.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("consumer group ID is required")
	}

	if c.ClientID == "" {
		c.ClientID = "bom-enricher"
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "PLAINTEXT"
	}
	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		if c.SASLMechanism == "" || c.SASLUsername == "" {
			return fmt.Errorf("SASL mechanism and username are required for %s", c.SecurityProtocol)
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	return nil
}

// BootstrapServers returns the broker list in librdkafka format.
func (c *Config) BootstrapServers() string {
	return strings.Join(c.Brokers, ",")
}
