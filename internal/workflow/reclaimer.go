package workflow

import (
	"context"
	"time"

	"bom-enricher/internal/common/logging"
)

// Reclaimer finds executions orphaned by crashed workers and feeds them
// back to the engine. An execution is considered stalled when its last
// checkpoint is older than the stale threshold; live executions heartbeat
// through the per-step checkpoint writes.
type Reclaimer struct {
	store      *Store
	engine     *Engine
	staleAfter time.Duration
	logger     logging.Logger
}

// NewReclaimer creates a reclaimer. staleAfter is how long an execution
// may go without a checkpoint before it is handed back to the engine. A
// step may legitimately run longer than that (a supplier query under a
// patient retry budget, say); the orchestrator covers that case by
// skipping any reclaimed execution whose lock is still held by a live
// worker, so a premature reclaim is a no-op rather than a double run.
func NewReclaimer(store *Store, engine *Engine, staleAfter time.Duration, logger logging.Logger) *Reclaimer {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Reclaimer{
		store:      store,
		engine:     engine,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Reclaim scans for stalled non-terminal executions and resumes them.
// Returns the number of executions handed back to the engine. Safe to
// run concurrently across workers: the business-key lock inside the
// orchestrator arbitrates double reclaims.
func (r *Reclaimer) Reclaim(ctx context.Context) (int, error) {
	executions, err := r.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-r.staleAfter)
	reclaimed := 0

	for _, exec := range executions {
		if exec.UpdatedAt.After(cutoff) {
			continue
		}

		r.logger.Info("Reclaiming stalled execution",
			logging.Field{Key: "business_key", Value: exec.BusinessKey},
			logging.Field{Key: "step", Value: string(exec.Step)},
			logging.Field{Key: "stalled_since", Value: exec.UpdatedAt.Format(time.RFC3339)},
		)
		r.engine.Resume(ctx, exec)
		reclaimed++
	}

	return reclaimed, nil
}
