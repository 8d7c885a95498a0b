package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/locks"
	"bom-enricher/internal/models"
)

// startOperation is the idempotency namespace for workflow starts:
// idem:enrich:<business_key>.
const startOperation = "enrich"

// Engine owns execution lifecycles: it starts exactly one durable
// execution per business key, bounds in-flight executions to a fixed
// number of worker slots, and resumes reclaimed executions.
type Engine struct {
	store        *Store
	orchestrator *Orchestrator
	idem         *locks.Idempotency
	slots        chan struct{}
	wg           sync.WaitGroup
	logger       logging.Logger
}

// NewEngine creates an engine with workerSlots concurrent executions.
func NewEngine(store *Store, orchestrator *Orchestrator, idem *locks.Idempotency, workerSlots int, logger logging.Logger) *Engine {
	if workerSlots < 1 {
		workerSlots = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		store:        store,
		orchestrator: orchestrator,
		idem:         idem,
		slots:        make(chan struct{}, workerSlots),
		logger:       logger,
	}
}

// Start begins a durable execution for the request. Starting a key that
// is already registered is a success, not an error: the caller's event is
// a duplicate and the running execution covers it. Start returns once the
// execution is durably checkpointed; the step sequence runs on a worker
// slot in the background.
func (e *Engine) Start(ctx context.Context, request *models.EnrichmentRequest) error {
	executionID := uuid.NewString()

	created, err := e.idem.Register(ctx, startOperation, request.BusinessKey, map[string]string{
		"execution_id": executionID,
	})
	if err != nil {
		return errors.ConnectionError("failed to register execution start", err).
			WithContext("business_key", request.BusinessKey)
	}
	if !created {
		e.logger.Info("Execution already registered, deduplicating start",
			logging.Field{Key: "business_key", Value: request.BusinessKey},
			logging.Field{Key: "tenant_id", Value: request.TenantID},
		)
		return nil
	}

	exec := &Execution{
		ExecutionID: executionID,
		BusinessKey: request.BusinessKey,
		TenantID:    request.TenantID,
		Priority:    request.Priority,
		Source:      request.Source,
		Step:        StepPending,
		StartedAt:   request.RequestedAt,
	}

	if err := e.store.Checkpoint(ctx, exec); err != nil {
		return err
	}

	e.dispatch(ctx, exec)
	return nil
}

// Resume schedules a reclaimed non-terminal execution onto a worker slot.
func (e *Engine) Resume(ctx context.Context, exec *Execution) {
	exec.Attempt++
	e.dispatch(ctx, exec)
}

func (e *Engine) dispatch(ctx context.Context, exec *Execution) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.slots <- struct{}{}:
			defer func() { <-e.slots }()
		case <-ctx.Done():
			// Shutdown before a slot freed up; the checkpoint survives and
			// the reclaimer picks the execution up later
			return
		}

		if err := e.orchestrator.Run(ctx, exec); err != nil {
			e.logger.Warn("Execution finished with terminal failure",
				logging.Field{Key: "business_key", Value: exec.BusinessKey},
				logging.Field{Key: "code", Value: exec.FailureCode},
			)
		}
	}()
}

// InFlight returns the number of currently occupied worker slots.
func (e *Engine) InFlight() int {
	return len(e.slots)
}

// Wait blocks until all dispatched executions have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
