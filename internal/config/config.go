// Package config provides configuration management for the enrichment
// worker. It loads configuration from environment variables (optionally a
// .env file) with sensible defaults and validates the result so a worker
// never starts half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - OPS_PORT: Ops/health server port (default: 8081)
//   - LOG_LEVEL: Logging level (default: info)
//   - WORKER_SLOTS: Max concurrent workflow executions per process (default: 8)
//
// Redis (locks, idempotency, checkpoints, risk cache):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Connection pool size (default: 10)
//
// Broker (inbound events, outbound notifications):
//   - BROKER_TYPE: "redis" (Redis Streams) or "kafka" (default: redis)
//   - KAFKA_BROKERS: Comma-separated bootstrap servers
//   - CONSUMER_GROUP: Consumer group name (default: enrichment-workers)
//   - ENRICHMENT_TOPIC: Inbound enrichment request topic (default: enrichment.requests)
//   - EVENTS_TOPIC: Outbound progress/notification topic (default: enrichment.events)
//   - SCORES_TOPIC: Score-calculated topic feeding the risk cache (default: score.calculated)
//
// Storage (component records + history):
//   - DATABASE_TYPE: "postgres" or "sqlite" (default: sqlite)
//   - DATABASE_PATH: SQLite file path (default: ./enrichment.db)
//   - POSTGRES_DSN: PostgreSQL DSN (required when DATABASE_TYPE=postgres)
//
// Locking / idempotency:
//   - LOCK_BACKEND: "redis" (SETNX + owner token) or "redsync" (Redlock) (default: redis)
//   - LOCK_TTL: Lock expiry (default: 2m)
//   - LOCK_ACQUIRE_TIMEOUT: Max wait for a contended lock (default: 30s)
//   - IDEMPOTENCY_TTL: Idempotency key lifetime (default: 1h)
//   - START_DEDUP_TTL: How long a started business key suppresses further
//     enrichment events for the same key (default: 1h)
//
// Risk cache:
//   - RISK_CACHE_TTL: CachedRiskEntry lifetime (default: 1h)
//
// Scoring:
//   - SPEC_CHECKLIST: Comma-separated spec parameter names; defaults to the
//     built-in electronics checklist
//   - MIN_SUPPLIER_CONFIDENCE: Minimum supplier match confidence (default: 80)
//
// Suppliers:
//   - SUPPLIER_ENDPOINTS: Semicolon-separated supplier endpoints, each
//     "name|priority|base_url" or "name|priority|base_url|api_key".
//     Empty means catalog-only operation.
//   - SUPPLIER_TIMEOUT: Per-request supplier HTTP timeout (default: 10s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the enrichment worker.
type Config struct {
	// Application settings
	OpsPort     string // Ops/health server port
	LogLevel    string // Logging level (debug, info, warn, error)
	WorkerSlots int    // Max concurrent workflow executions per process

	// Redis configuration for distributed coordination
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Broker configuration
	BrokerType      string   // "redis" or "kafka"
	KafkaBrokers    []string // Kafka bootstrap servers
	ConsumerGroup   string
	EnrichmentTopic string
	EventsTopic     string
	ScoresTopic     string

	// Storage configuration
	DatabaseType string // "postgres" or "sqlite"
	DatabasePath string // SQLite file path
	PostgresDSN  string

	// Lock and idempotency configuration
	LockBackend        string // "redis" (SETNX) or "redsync" (Redlock)
	LockTTL            time.Duration
	LockAcquireTimeout time.Duration
	IdempotencyTTL     time.Duration
	StartDedupTTL      time.Duration // deduplication window for start events per business key

	// Risk cache configuration
	RiskCacheTTL time.Duration

	// Scoring configuration
	SpecChecklist         []string
	MinSupplierConfidence float64

	// Supplier endpoints, highest priority queried first
	Suppliers       []SupplierEndpoint
	SupplierTimeout time.Duration
}

// SupplierEndpoint is one external supplier lookup endpoint.
type SupplierEndpoint struct {
	Name     string
	Priority int
	BaseURL  string
	APIKey   string
}

// defaultSpecChecklist is the fixed checklist of specification parameters
// the scorer measures extraction against when SPEC_CHECKLIST is not set.
// Roughly twenty parameters covering the common electronics datasheet
// fields; per-category checklists are deliberately not modeled.
var defaultSpecChecklist = []string{
	"resistance", "capacitance", "inductance", "tolerance",
	"voltage_rating", "current_rating", "power_rating",
	"operating_temperature_min", "operating_temperature_max",
	"package_case", "mounting_type", "pin_count",
	"frequency", "dielectric", "interface", "supply_voltage",
	"output_type", "channels", "memory_size", "core_architecture",
}

// Load creates a Config from environment variables, reading a .env file
// first when one is present. Call Validate before using the result.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		OpsPort:     getEnv("OPS_PORT", "8081"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		WorkerSlots: getIntEnv("WORKER_SLOTS", 8),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		BrokerType:      getEnv("BROKER_TYPE", "redis"),
		KafkaBrokers:    splitEnv("KAFKA_BROKERS", "localhost:9092"),
		ConsumerGroup:   getEnv("CONSUMER_GROUP", "enrichment-workers"),
		EnrichmentTopic: getEnv("ENRICHMENT_TOPIC", "enrichment.requests"),
		EventsTopic:     getEnv("EVENTS_TOPIC", "enrichment.events"),
		ScoresTopic:     getEnv("SCORES_TOPIC", "score.calculated"),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./enrichment.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		LockBackend:        getEnv("LOCK_BACKEND", "redis"),
		LockTTL:            getDurationEnv("LOCK_TTL", 2*time.Minute),
		LockAcquireTimeout: getDurationEnv("LOCK_ACQUIRE_TIMEOUT", 30*time.Second),
		IdempotencyTTL:     getDurationEnv("IDEMPOTENCY_TTL", time.Hour),
		StartDedupTTL:      getDurationEnv("START_DEDUP_TTL", time.Hour),

		RiskCacheTTL: getDurationEnv("RISK_CACHE_TTL", time.Hour),

		SpecChecklist:         splitEnvDefault("SPEC_CHECKLIST", defaultSpecChecklist),
		MinSupplierConfidence: getFloatEnv("MIN_SUPPLIER_CONFIDENCE", 80),

		Suppliers:       parseSupplierEndpoints(getEnv("SUPPLIER_ENDPOINTS", "")),
		SupplierTimeout: getDurationEnv("SUPPLIER_TIMEOUT", 10*time.Second),
	}
}

// parseSupplierEndpoints parses "name|priority|base_url[|api_key]"
// entries separated by semicolons. Malformed entries come back
// zero-named so Validate rejects them with context.
func parseSupplierEndpoints(raw string) []SupplierEndpoint {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var endpoints []SupplierEndpoint
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		parts := strings.Split(segment, "|")
		if len(parts) < 3 {
			endpoints = append(endpoints, SupplierEndpoint{})
			continue
		}

		priority, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			endpoints = append(endpoints, SupplierEndpoint{})
			continue
		}

		endpoint := SupplierEndpoint{
			Name:     strings.TrimSpace(parts[0]),
			Priority: priority,
			BaseURL:  strings.TrimSpace(parts[2]),
		}
		if len(parts) > 3 {
			endpoint.APIKey = strings.TrimSpace(parts[3])
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// getEnv retrieves an environment variable value or returns a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitEnvDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitEnv(key, value)
	}
	out := make([]string, len(defaultValue))
	copy(out, defaultValue)
	return out
}

// Validate checks required fields, value ranges, and cross-field
// dependencies. Workers should refuse to start on a validation error.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.OpsPort); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("OPS_PORT must be a valid port number between 1 and 65535")
	}

	if c.WorkerSlots < 1 {
		return fmt.Errorf("WORKER_SLOTS must be a positive number")
	}

	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required: locks, idempotency and checkpoints live in Redis")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	switch c.BrokerType {
	case "redis", "kafka":
	default:
		return fmt.Errorf("BROKER_TYPE must be 'redis' or 'kafka'")
	}
	if c.BrokerType == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when BROKER_TYPE=kafka")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("CONSUMER_GROUP must not be empty")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when DATABASE_TYPE=sqlite")
		}
	case "postgres", "postgresql":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DATABASE_TYPE=postgres")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	switch c.LockBackend {
	case "redis", "redsync":
	default:
		return fmt.Errorf("LOCK_BACKEND must be 'redis' or 'redsync'")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.LockAcquireTimeout <= 0 {
		return fmt.Errorf("LOCK_ACQUIRE_TIMEOUT must be positive")
	}
	if c.LockAcquireTimeout >= c.LockTTL {
		return fmt.Errorf("LOCK_ACQUIRE_TIMEOUT must be shorter than LOCK_TTL")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.StartDedupTTL <= 0 {
		return fmt.Errorf("START_DEDUP_TTL must be positive")
	}
	if c.RiskCacheTTL <= 0 {
		return fmt.Errorf("RISK_CACHE_TTL must be positive")
	}

	if len(c.SpecChecklist) == 0 {
		return fmt.Errorf("SPEC_CHECKLIST must contain at least one parameter name")
	}
	if c.MinSupplierConfidence < 0 || c.MinSupplierConfidence > 100 {
		return fmt.Errorf("MIN_SUPPLIER_CONFIDENCE must be between 0 and 100")
	}

	for i, supplier := range c.Suppliers {
		if supplier.Name == "" || supplier.BaseURL == "" {
			return fmt.Errorf("SUPPLIER_ENDPOINTS entry %d is malformed: expected name|priority|base_url[|api_key]", i+1)
		}
	}
	if c.SupplierTimeout <= 0 {
		return fmt.Errorf("SUPPLIER_TIMEOUT must be positive")
	}

	return nil
}
