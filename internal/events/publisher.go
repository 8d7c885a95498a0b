// Package events publishes the pipeline's outbound events: workflow
// progress notifications and the score stream the risk cache consumes.
// Publishing is fire-and-forget by contract; a broker outage degrades
// observability but never fails an enrichment.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/models"
)

// Publisher emits progress and score events.
type Publisher struct {
	broker      brokers.Broker
	eventsTopic string
	scoresTopic string
	logger      logging.Logger
}

// NewPublisher creates a publisher writing progress events to eventsTopic
// and score events to scoresTopic.
func NewPublisher(broker brokers.Broker, eventsTopic, scoresTopic string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Publisher{
		broker:      broker,
		eventsTopic: eventsTopic,
		scoresTopic: scoresTopic,
		logger:      logger,
	}
}

// Started emits enrichment.started.
func (p *Publisher) Started(ctx context.Context, businessKey, tenantID string) {
	p.progress(ctx, models.ProgressEvent{
		EventType:   models.EventEnrichmentStarted,
		BusinessKey: businessKey,
		TenantID:    tenantID,
		Timestamp:   time.Now(),
	})
}

// Progress emits enrichment.progress with the current batch state.
func (p *Publisher) Progress(ctx context.Context, businessKey, tenantID string, state models.ProgressState) {
	p.progress(ctx, models.ProgressEvent{
		EventType:   models.EventEnrichmentProgress,
		BusinessKey: businessKey,
		TenantID:    tenantID,
		State:       state,
		Timestamp:   time.Now(),
	})
}

// Completed emits enrichment.completed.
func (p *Publisher) Completed(ctx context.Context, businessKey, tenantID string) {
	p.progress(ctx, models.ProgressEvent{
		EventType:   models.EventEnrichmentCompleted,
		BusinessKey: businessKey,
		TenantID:    tenantID,
		State:       models.ProgressState{TotalItems: 1, CompletedItems: 1, PercentComplete: 100},
		Timestamp:   time.Now(),
	})
}

// Failed emits enrichment.failed carrying the stable error code, so
// consumers observing the stream see a terminal event instead of a
// silent stall.
func (p *Publisher) Failed(ctx context.Context, businessKey, tenantID, errorCode string) {
	p.progress(ctx, models.ProgressEvent{
		EventType:   models.EventEnrichmentFailed,
		BusinessKey: businessKey,
		TenantID:    tenantID,
		State:       models.ProgressState{TotalItems: 1, FailedItems: 1, PercentComplete: 100},
		ErrorCode:   errorCode,
		Timestamp:   time.Now(),
	})
}

// ScoreCalculated emits score.calculated on the score stream.
func (p *Publisher) ScoreCalculated(ctx context.Context, tenantID, componentID string, result models.QualityScoreResult) {
	event := models.ScoreCalculatedEvent{
		EventType:   models.EventScoreCalculated,
		TenantID:    tenantID,
		ComponentID: componentID,
		TotalScore:  result.TotalScore,
		SubScores:   result.SubScores,
		Timestamp:   time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode score event", err,
			logging.Field{Key: "component_id", Value: componentID},
		)
		return
	}

	p.publish(ctx, p.scoresTopic, componentID, event.EventType, body)
}

func (p *Publisher) progress(ctx context.Context, event models.ProgressEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode progress event", err,
			logging.Field{Key: "business_key", Value: event.BusinessKey},
		)
		return
	}

	p.publish(ctx, p.eventsTopic, event.BusinessKey, event.EventType, body)
}

// publish is best-effort: failures are logged and swallowed.
func (p *Publisher) publish(ctx context.Context, topic, key, eventType string, body []byte) {
	err := p.broker.Publish(ctx, &brokers.Message{
		Topic:     topic,
		Key:       key,
		Headers:   map[string]string{"event_type": eventType},
		Body:      body,
		Timestamp: time.Now(),
		MessageID: uuid.NewString(),
	})
	if err != nil {
		p.logger.Warn("Event publish failed, continuing",
			logging.Field{Key: "topic", Value: topic},
			logging.Field{Key: "event_type", Value: eventType},
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}
