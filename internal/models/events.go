package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnrichmentRequest is built by the dispatcher from an inbound event and
// consumed by the orchestrator. It is never persisted standalone; it is
// folded into workflow execution state.
type EnrichmentRequest struct {
	BusinessKey string    `json:"business_key"`
	TenantID    string    `json:"tenant_id"`
	Priority    int       `json:"priority"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// EnrichmentEvent is the minimal inbound wire shape the dispatcher accepts.
// Source-specific extra fields are ignored.
type EnrichmentEvent struct {
	BusinessKey string `json:"business_key"`
	TenantID    string `json:"tenant_id"`
	Priority    int    `json:"priority"`
	Source      string `json:"source"`
}

// ParseEnrichmentEvent decodes an inbound payload and enforces the required
// fields. A missing business key or tenant ID can never succeed on retry,
// so the caller should treat the error as permanent.
func ParseEnrichmentEvent(payload []byte) (*EnrichmentEvent, error) {
	var ev EnrichmentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("unparseable event payload: %w", err)
	}
	if ev.BusinessKey == "" {
		return nil, fmt.Errorf("event missing business_key")
	}
	if ev.TenantID == "" {
		return nil, fmt.Errorf("event missing tenant_id")
	}
	if ev.Priority < 1 || ev.Priority > 9 {
		ev.Priority = 5
	}
	return &ev, nil
}

// ProgressState summarizes batch progress for outbound events.
type ProgressState struct {
	TotalItems      int     `json:"total_items"`
	CompletedItems  int     `json:"completed_items"`
	FailedItems     int     `json:"failed_items"`
	PercentComplete float64 `json:"percent_complete"`
}

// ProgressEvent is published on every material state transition of an
// enrichment execution so that notification and telemetry consumers can
// observe progress without polling.
type ProgressEvent struct {
	EventType   string        `json:"event_type"`
	BusinessKey string        `json:"business_key"`
	TenantID    string        `json:"tenant_id"`
	State       ProgressState `json:"state"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Outbound event types.
const (
	EventEnrichmentStarted   = "enrichment.started"
	EventEnrichmentProgress  = "enrichment.progress"
	EventEnrichmentCompleted = "enrichment.completed"
	EventEnrichmentFailed    = "enrichment.failed"
	EventScoreCalculated     = "score.calculated"
)

// ScoreCalculatedEvent feeds the risk cache read model. Any scoring
// subsystem may publish it, not just the enrichment workflow.
type ScoreCalculatedEvent struct {
	EventType   string    `json:"event_type"`
	TenantID    string    `json:"tenant_id"`
	ComponentID string    `json:"component_id"`
	TotalScore  float64   `json:"total_score"`
	SubScores   SubScores `json:"sub_scores"`
	Timestamp   time.Time `json:"timestamp"`
}
