package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"bom-enricher/internal/common/logging"
)

// checkTimeout bounds each readiness probe so one stuck dependency
// cannot hang the whole endpoint.
const checkTimeout = 2 * time.Second

// Ops aggregates named readiness checks and statistics providers and
// serves them over HTTP.
type Ops struct {
	checks map[string]func(ctx context.Context) error
	stats  map[string]func() interface{}
	logger logging.Logger
}

// NewOps creates an empty ops surface; register checks and stats before
// building the router.
func NewOps(logger logging.Logger) *Ops {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Ops{
		checks: make(map[string]func(ctx context.Context) error),
		stats:  make(map[string]func() interface{}),
		logger: logger,
	}
}

// AddCheck registers a named readiness check.
func (o *Ops) AddCheck(name string, check func(ctx context.Context) error) {
	o.checks[name] = check
}

// AddStats registers a named statistics provider.
func (o *Ops) AddStats(name string, provider func() interface{}) {
	o.stats[name] = provider
}

// Router builds the ops router.
func (o *Ops) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", o.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", o.Readyz).Methods(http.MethodGet)
	r.HandleFunc("/stats", o.Stats).Methods(http.MethodGet)
	return r
}

// Healthz reports process liveness.
func (o *Ops) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs every registered check and reports per-dependency status.
// Any failing dependency makes the whole endpoint unready.
func (o *Ops) Readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(o.checks))
	for name := range o.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := o.checks[name](ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			o.logger.Warn("Readiness check failed",
				logging.Field{Key: "check", Value: name},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		results[name] = "ok"
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": ready,
		"checks": results,
	})
}

// Stats returns a snapshot from every registered provider.
func (o *Ops) Stats(w http.ResponseWriter, r *http.Request) {
	snapshot := make(map[string]interface{}, len(o.stats))
	for name, provider := range o.stats {
		snapshot[name] = provider()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
