// Package workflow implements the durable enrichment state machine: a
// persisted execution record per business key, an orchestrator that walks
// the record through the enrichment steps, an engine bounding concurrent
// executions, and a reclaimer that resumes work orphaned by a crashed
// worker.
package workflow

import (
	"context"
	"strings"
	"time"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/models"
	"bom-enricher/internal/redis"
)

// Step is a state of the enrichment state machine. The persisted step is
// always the step about to execute, written before the step runs, so a
// resumed execution repeats at most one step (every step is idempotent
// under the business-key lock).
type Step string

const (
	StepPending       Step = "PENDING"
	StepLockAcquired  Step = "LOCK_ACQUIRED"
	StepLocalLookup   Step = "LOCAL_LOOKUP"
	StepSupplierQuery Step = "SUPPLIER_QUERY"
	StepNormalize     Step = "NORMALIZE"
	StepScore         Step = "SCORE"
	StepRoute         Step = "ROUTE"
	StepPersist       Step = "PERSIST"
	StepNotify        Step = "NOTIFY"
	StepComplete      Step = "COMPLETE"
	StepFailed        Step = "TERMINAL_FAILED"
)

// Terminal reports whether the step is a terminal state.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepFailed
}

// Execution is the durable record of one enrichment run. It carries the
// intermediate results needed to resume mid-sequence: the record found so
// far and the score once computed.
type Execution struct {
	ExecutionID string `json:"execution_id"`
	BusinessKey string `json:"business_key"`
	TenantID    string `json:"tenant_id"`
	Priority    int    `json:"priority"`
	Source      string `json:"source"`

	Step        Step   `json:"step"`
	Attempt     int    `json:"attempt"`
	LastError   string `json:"last_error,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`

	Record      *models.ComponentRecord    `json:"record,omitempty"`
	Score       *models.QualityScoreResult `json:"score,omitempty"`
	FromCatalog bool                       `json:"from_catalog,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const execKeyPrefix = "wf:exec:"

// ExecKey returns the checkpoint key for a business key.
func ExecKey(businessKey string) string {
	return execKeyPrefix + businessKey
}

// Store persists execution checkpoints in Redis. Checkpoints are not the
// system of record for results, only for in-flight progress; they expire
// after retention so terminal records clean themselves up.
type Store struct {
	redis     *redis.Client
	retention time.Duration
}

// NewStore creates an execution store. Retention bounds how long a
// checkpoint outlives its last write; it must comfortably exceed the
// longest plausible execution plus reclaim delay.
func NewStore(redisClient *redis.Client, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{redis: redisClient, retention: retention}
}

// Checkpoint durably writes the execution state, stamping UpdatedAt. The
// orchestrator calls this before every step transition.
func (s *Store) Checkpoint(ctx context.Context, exec *Execution) error {
	exec.UpdatedAt = time.Now().UTC()
	if err := s.redis.Set(ctx, ExecKey(exec.BusinessKey), exec, s.retention); err != nil {
		return errors.ConnectionError("failed to checkpoint execution", err).
			WithContext("business_key", exec.BusinessKey)
	}
	return nil
}

// Get loads the execution for a business key. Returns a NotFoundError
// when no checkpoint exists.
func (s *Store) Get(ctx context.Context, businessKey string) (*Execution, error) {
	var exec Execution
	err := s.redis.GetJSON(ctx, ExecKey(businessKey), &exec)
	if err == redis.Nil {
		return nil, errors.NotFoundError("execution " + businessKey)
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to load execution", err).
			WithContext("business_key", businessKey)
	}
	return &exec, nil
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, businessKey string) error {
	return s.redis.Delete(ctx, ExecKey(businessKey))
}

// ListNonTerminal returns all executions not in a terminal step. The
// reclaimer uses this to find orphaned work; the scan is cursor-based, so
// it never blocks the keyspace.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*Execution, error) {
	keys, err := s.redis.ScanKeys(ctx, execKeyPrefix+"*")
	if err != nil {
		return nil, errors.ConnectionError("failed to scan executions", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var executions []*Execution
	for _, key := range keys {
		var exec Execution
		err := s.redis.GetJSON(ctx, key, &exec)
		if err == redis.Nil {
			// Expired between scan and read
			continue
		}
		if err != nil {
			return nil, errors.ConnectionError("failed to load execution", err).
				WithContext("key", key)
		}
		if !exec.Step.Terminal() && strings.HasPrefix(key, execKeyPrefix) {
			executions = append(executions, &exec)
		}
	}
	return executions, nil
}
