package catalog

import (
	"context"
	"sort"

	"bom-enricher/internal/circuitbreaker"
	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/models"
	"bom-enricher/internal/retry"
)

// Chain queries supplier adapters in descending priority order and stops
// at the first match meeting the minimum confidence threshold. Each
// adapter call runs under its own circuit breaker and the patient retry
// preset; a supplier that is down or out of budget is skipped, not fatal,
// because a lower-priority supplier may still have the part.
type Chain struct {
	adapters      []SupplierAdapter
	breakers      *circuitbreaker.Manager
	retryConfig   retry.Config
	minConfidence float64
	logger        logging.Logger
}

// NewChain builds a supplier chain. Adapters are sorted by descending
// priority once here; registration order does not matter.
func NewChain(adapters []SupplierAdapter, breakers *circuitbreaker.Manager, minConfidence float64, logger logging.Logger) *Chain {
	sorted := make([]SupplierAdapter, len(adapters))
	copy(sorted, adapters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Chain{
		adapters:      sorted,
		breakers:      breakers,
		retryConfig:   retry.Patient(),
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Query walks the chain for the identifier. It returns the first record
// whose confidence meets the threshold, already stamped with the
// supplier's source tier and confidence. When every supplier misses or
// fails it returns a NotFoundError.
func (c *Chain) Query(ctx context.Context, identifier, manufacturer string) (*models.ComponentRecord, error) {
	log := c.logger.WithContext(ctx)

	for _, adapter := range c.adapters {
		record, confidence, err := c.querySupplier(ctx, adapter, identifier, manufacturer)
		if err != nil {
			if errors.IsType(err, errors.ErrTypeNotFound) {
				log.Debug("Supplier has no match",
					logging.Field{Key: "supplier", Value: adapter.Name()},
					logging.Field{Key: "identifier", Value: identifier},
				)
				continue
			}
			if ctx.Err() != nil {
				return nil, err
			}
			// Transient budget exhausted or breaker open: fall through to
			// the next supplier rather than failing the whole lookup.
			log.Warn("Supplier query failed, trying next source",
				logging.Field{Key: "supplier", Value: adapter.Name()},
				logging.Field{Key: "identifier", Value: identifier},
				logging.Field{Key: "error", Value: err.Error()},
			)
			continue
		}

		if confidence < c.minConfidence {
			log.Debug("Supplier match below confidence threshold",
				logging.Field{Key: "supplier", Value: adapter.Name()},
				logging.Field{Key: "identifier", Value: identifier},
				logging.Field{Key: "confidence", Value: confidence},
			)
			continue
		}

		result := record.Clone()
		result.SourceTier = models.SourceTier(adapter.Name())
		if result.CategoryConfidence == 0 {
			result.CategoryConfidence = confidence
		}

		log.Info("Supplier match accepted",
			logging.Field{Key: "supplier", Value: adapter.Name()},
			logging.Field{Key: "identifier", Value: identifier},
			logging.Field{Key: "confidence", Value: confidence},
		)
		return result, nil
	}

	return nil, errors.NotFoundError("component " + identifier)
}

// querySupplier runs one adapter under its breaker and the retry budget.
func (c *Chain) querySupplier(ctx context.Context, adapter SupplierAdapter, identifier, manufacturer string) (*models.ComponentRecord, float64, error) {
	var record *models.ComponentRecord
	var confidence float64

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.breakers.Execute(ctx, adapter.Name(), func() error {
			var queryErr error
			record, confidence, queryErr = adapter.Query(ctx, identifier, manufacturer, c.minConfidence)
			return queryErr
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return record, confidence, nil
}
