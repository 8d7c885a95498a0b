package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bom-enricher/internal/catalog"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/locks"
	"bom-enricher/internal/models"
	"bom-enricher/internal/retry"
	"bom-enricher/internal/scoring"
	"bom-enricher/internal/storage"
)

// lockResource namespaces enrichment locks: lock:part:<business_key>.
const lockResource = "part"

// SupplierSource is the external supplier lookup the orchestrator falls
// back to on a catalog miss. catalog.Chain implements it.
type SupplierSource interface {
	Query(ctx context.Context, identifier, manufacturer string) (*models.ComponentRecord, error)
}

// Notifier is the outbound event surface. events.Publisher implements
// it; all methods are fire-and-forget by contract.
type Notifier interface {
	Started(ctx context.Context, businessKey, tenantID string)
	Completed(ctx context.Context, businessKey, tenantID string)
	Failed(ctx context.Context, businessKey, tenantID, errorCode string)
	ScoreCalculated(ctx context.Context, tenantID, componentID string, result models.QualityScoreResult)
}

// Orchestrator drives one execution through the enrichment steps. It is
// stateless between runs; all progress lives in the execution record.
type Orchestrator struct {
	store       *Store
	locker      locks.Locker
	idem        *locks.Idempotency
	catalog     catalog.Catalog
	suppliers   SupplierSource
	scorer      *scoring.Scorer
	sink        storage.Sink
	notifier    Notifier
	lockTTL     time.Duration
	lockTimeout time.Duration
	retryConfig retry.Config
	logger      logging.Logger
}

// OrchestratorConfig wires an Orchestrator's collaborators.
type OrchestratorConfig struct {
	Store       *Store
	Locker      locks.Locker
	Idempotency *locks.Idempotency
	Catalog     catalog.Catalog
	Suppliers   SupplierSource
	Scorer      *scoring.Scorer
	Sink        storage.Sink
	Notifier    Notifier
	LockTTL     time.Duration
	LockTimeout time.Duration
	Logger      logging.Logger
}

// NewOrchestrator creates an orchestrator. Infrastructure calls (catalog
// reads, persistence) use the standard retry preset; supplier calls carry
// their own budget inside the chain.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		store:       config.Store,
		locker:      config.Locker,
		idem:        config.Idempotency,
		catalog:     config.Catalog,
		suppliers:   config.Suppliers,
		scorer:      config.Scorer,
		sink:        config.Sink,
		notifier:    config.Notifier,
		lockTTL:     config.LockTTL,
		lockTimeout: config.LockTimeout,
		retryConfig: retry.Standard(),
		logger:      logger,
	}
}

// Run executes the state machine from the execution's recorded step until
// a terminal state. The persisted step is always written before the step
// runs, so a crash resumes by repeating at most the interrupted step. The
// lock is released on every exit path.
func (o *Orchestrator) Run(ctx context.Context, exec *Execution) error {
	ctx = logging.ContextWith(ctx, exec.TenantID, exec.BusinessKey, exec.ExecutionID)
	log := o.logger.WithContext(ctx)
	start := time.Now()

	if exec.Step == StepPending && exec.Attempt == 0 {
		o.notifier.Started(ctx, exec.BusinessKey, exec.TenantID)
	} else {
		// Reclaimed or mid-sequence; subscribers already saw the start
		log.Info("Resuming execution",
			logging.Field{Key: "step", Value: string(exec.Step)},
			logging.Field{Key: "attempt", Value: exec.Attempt},
		)
	}

	var held locks.Lock
	defer func() {
		if held != nil {
			// Release with a fresh context so cancellation cannot leak the
			// lock until TTL expiry
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := held.Release(releaseCtx); err != nil {
				log.Error("Failed to release enrichment lock", err,
					logging.Field{Key: "key", Value: held.Key()},
				)
			}
		}
	}()

	// A resumed execution past LOCK_ACQUIRED no longer holds its lock
	// (the previous process died with it, and the TTL reaped it), so it
	// must be re-claimed before any step runs.
	if exec.Step != StepPending && exec.Step != StepLockAcquired && !exec.Step.Terminal() {
		lock, err := o.locker.Acquire(ctx, lockResource, exec.BusinessKey, o.lockTTL, o.lockTimeout)
		if err != nil {
			if errors.IsType(err, errors.ErrTypeContention) {
				return o.skipHeldElsewhere(log, exec)
			}
			return o.fail(ctx, exec, start, err)
		}
		held = lock
	}

	for {
		if err := o.store.Checkpoint(ctx, exec); err != nil {
			return o.fail(ctx, exec, start, err)
		}

		switch exec.Step {
		case StepPending:
			exec.Step = StepLockAcquired

		case StepLockAcquired:
			lock, err := o.locker.Acquire(ctx, lockResource, exec.BusinessKey, o.lockTTL, o.lockTimeout)
			if err != nil {
				if exec.Attempt > 0 && errors.IsType(err, errors.ErrTypeContention) {
					return o.skipHeldElsewhere(log, exec)
				}
				// Contention on a first attempt is a distinct terminal
				// reason, not an infrastructure failure
				return o.fail(ctx, exec, start, err)
			}
			held = lock
			exec.Step = StepLocalLookup

		case StepLocalLookup:
			record, err := o.localLookup(ctx, exec.BusinessKey)
			switch {
			case err == nil:
				// Catalog hit: reuse the existing score and skip straight
				// to routing
				exec.Record = record
				exec.FromCatalog = true
				exec.Score = &models.QualityScoreResult{
					TotalScore: record.QualityScore,
					Routing:    scoring.Route(record.QualityScore),
				}
				exec.Step = StepRoute
			case errors.IsType(err, errors.ErrTypeNotFound):
				exec.Step = StepSupplierQuery
			default:
				return o.fail(ctx, exec, start, err)
			}

		case StepSupplierQuery:
			record, err := o.suppliers.Query(ctx, exec.BusinessKey, "")
			if err != nil {
				return o.fail(ctx, exec, start, err)
			}
			exec.Record = record
			exec.Step = StepNormalize

		case StepNormalize:
			exec.Record = Normalize(exec.Record)
			exec.Step = StepScore

		case StepScore:
			result := o.scorer.Score(exec.Record)
			exec.Score = &result
			exec.Step = StepRoute

		case StepRoute:
			exec.Record.QualityScore = exec.Score.TotalScore
			exec.Record.RoutingDecision = exec.Score.Routing
			exec.Step = StepPersist

		case StepPersist:
			if err := o.persist(ctx, exec, start); err != nil {
				return o.fail(ctx, exec, start, err)
			}
			exec.Step = StepNotify

		case StepNotify:
			// Best-effort by contract; never fails the workflow
			o.notifier.Completed(ctx, exec.BusinessKey, exec.TenantID)
			if exec.Record != nil && exec.Score != nil {
				o.notifier.ScoreCalculated(ctx, exec.TenantID, exec.Record.Identifier, *exec.Score)
			}
			exec.Step = StepComplete

		case StepComplete:
			log.Info("Enrichment complete",
				logging.Field{Key: "routing", Value: string(exec.Score.Routing)},
				logging.Field{Key: "score", Value: exec.Score.TotalScore},
				logging.Field{Key: "from_catalog", Value: exec.FromCatalog},
				logging.Field{Key: "duration", Value: time.Since(start).String()},
			)
			return nil

		case StepFailed:
			// Reclaimed execution that was already marked failed
			return errors.InternalError(exec.LastError, nil).WithCode(exec.FailureCode)

		default:
			return o.fail(ctx, exec, start,
				errors.InternalError("unknown workflow step: "+string(exec.Step), nil))
		}
	}
}

// skipHeldElsewhere handles lock contention on a reclaimed execution.
// A held lock means a worker is still alive on this business key (a dead
// worker's lock expires by TTL), so the reclaim was premature: leave the
// checkpoint untouched for the live worker and let the next sweep
// re-check. Marking the execution failed here would write a spurious
// terminal outcome over work that is still in flight.
func (o *Orchestrator) skipHeldElsewhere(log logging.Logger, exec *Execution) error {
	log.Info("Lock held by a live worker, skipping reclaimed execution",
		logging.Field{Key: "step", Value: string(exec.Step)},
		logging.Field{Key: "attempt", Value: exec.Attempt},
	)
	return nil
}

// localLookup checks the catalog under the standard retry budget.
func (o *Orchestrator) localLookup(ctx context.Context, identifier string) (*models.ComponentRecord, error) {
	var record *models.ComponentRecord
	err := retry.Do(ctx, o.retryConfig, func() error {
		var lookupErr error
		record, lookupErr = o.catalog.Lookup(ctx, identifier)
		return lookupErr
	})
	return record, err
}

// persist writes the component and its history entry, retried under the
// standard budget. The write is guarded by an idempotency key on the
// execution identity so a crash between commit and checkpoint does not
// duplicate the history entry on resume.
func (o *Orchestrator) persist(ctx context.Context, exec *Execution, start time.Time) error {
	status := models.HistoryApproved
	if exec.Score.Routing == models.RoutingRejected {
		status = models.HistoryRejected
	}

	entry := &models.EnrichmentHistoryEntry{
		ID:             uuid.NewString(),
		BusinessKey:    exec.BusinessKey,
		TenantID:       exec.TenantID,
		AttemptedAt:    time.Now().UTC(),
		Status:         status,
		QualityScore:   exec.Score.TotalScore,
		Source:         string(exec.Record.SourceTier),
		ProcessingTime: time.Since(start),
		Issues:         exec.Score.Issues,
		LastStep:       string(StepPersist),
	}

	save := func() error {
		return retry.Do(ctx, o.retryConfig, func() error {
			return o.sink.Save(ctx, exec.Record, entry)
		})
	}

	if o.idem == nil {
		return save()
	}

	var marker struct {
		HistoryID string `json:"history_id"`
	}
	_, err := o.idem.Do(ctx, "persist", exec.ExecutionID, &marker, func() (interface{}, error) {
		if err := save(); err != nil {
			return nil, err
		}
		return map[string]string{"history_id": entry.ID}, nil
	})
	return err
}

// fail marks the execution terminally failed, records the single error
// history entry, and emits the terminal failed event with a stable code.
func (o *Orchestrator) fail(ctx context.Context, exec *Execution, start time.Time, cause error) error {
	log := o.logger.WithContext(ctx)
	code := errors.Code(cause)
	failedStep := exec.Step

	exec.LastError = cause.Error()
	exec.FailureCode = code
	exec.Step = StepFailed

	if err := o.store.Checkpoint(ctx, exec); err != nil {
		log.Error("Failed to checkpoint terminal failure", err)
	}

	entry := &models.EnrichmentHistoryEntry{
		ID:             uuid.NewString(),
		BusinessKey:    exec.BusinessKey,
		TenantID:       exec.TenantID,
		AttemptedAt:    time.Now().UTC(),
		Status:         models.HistoryError,
		ProcessingTime: time.Since(start),
		ErrorCode:      code,
		ErrorMessage:   cause.Error(),
		LastStep:       string(failedStep),
	}
	if exec.Score != nil {
		entry.QualityScore = exec.Score.TotalScore
	}
	if exec.Record != nil {
		entry.Source = string(exec.Record.SourceTier)
	}

	if err := o.sink.SaveHistory(ctx, entry); err != nil {
		// The terminal event below still surfaces the failure; losing the
		// history row is logged, never masked
		log.Error("Failed to record error history entry", err,
			logging.Field{Key: "code", Value: code},
		)
	}

	o.notifier.Failed(ctx, exec.BusinessKey, exec.TenantID, code)

	log.Warn("Enrichment terminally failed",
		logging.Field{Key: "step", Value: string(failedStep)},
		logging.Field{Key: "code", Value: code},
		logging.Field{Key: "error", Value: cause.Error()},
	)
	return cause
}
