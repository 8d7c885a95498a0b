// Package dispatcher bridges the inbound event stream and the workflow
// engine: it consumes enrichment request events, validates them, and
// starts durable executions. Acknowledgement follows the handler error:
// nil acknowledges, a permanent error dead-letters, a transient error
// leaves the delivery for redelivery.
package dispatcher

import (
	"context"
	"time"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/models"
)

// defaultSource labels events that do not declare their origin.
const defaultSource = "stream"

// Starter starts a durable execution for a request. workflow.Engine
// implements it; starting an already-running business key returns nil.
type Starter interface {
	Start(ctx context.Context, request *models.EnrichmentRequest) error
}

// Dispatcher consumes one topic and feeds the engine.
type Dispatcher struct {
	broker brokers.Broker
	engine Starter
	topic  string
	logger logging.Logger
}

// New creates a dispatcher for the given topic.
func New(broker brokers.Broker, engine Starter, topic string, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		broker: broker,
		engine: engine,
		topic:  topic,
		logger: logger,
	}
}

// Run subscribes to the enrichment topic. It returns once the
// subscription is established; consumption continues until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher subscribing",
		logging.Field{Key: "topic", Value: d.topic},
	)
	return d.broker.Subscribe(ctx, d.topic, d.handle)
}

// handle processes one delivery. Malformed payloads are permanent
// failures: redelivering them can never succeed, so they go to the dead
// letter topic instead of poisoning the stream.
func (d *Dispatcher) handle(ctx context.Context, delivery *brokers.Delivery) error {
	event, err := models.ParseEnrichmentEvent(delivery.Body)
	if err != nil {
		return errors.ValidationError(err.Error()).
			WithContext("message_id", delivery.ID).
			WithContext("topic", delivery.Topic)
	}

	request := d.buildRequest(event, delivery)

	if err := d.engine.Start(logging.ContextWith(ctx, event.TenantID, event.BusinessKey, ""), request); err != nil {
		// Start only fails on infrastructure trouble; the delivery stays
		// unacknowledged and comes back
		return err
	}
	return nil
}

// buildRequest folds the wire event and delivery metadata into the
// request the engine consumes.
func (d *Dispatcher) buildRequest(event *models.EnrichmentEvent, delivery *brokers.Delivery) *models.EnrichmentRequest {
	source := event.Source
	if source == "" {
		source = defaultSource
	}

	requestedAt := delivery.Timestamp
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}

	return &models.EnrichmentRequest{
		BusinessKey: event.BusinessKey,
		TenantID:    event.TenantID,
		Priority:    event.Priority,
		Source:      source,
		RequestedAt: requestedAt,
	}
}
