// Package catalog defines the lookup contracts the enrichment workflow
// depends on: the local catalog and the ranked external supplier chain.
// Both are contracts only; the storage layer provides the local catalog
// and supplier adapters are registered at wiring time.
package catalog

import (
	"context"

	"bom-enricher/internal/models"
)

// Catalog is the local component catalog. Lookup returns a NotFoundError
// when the identifier is unknown; any other error is infrastructure.
type Catalog interface {
	Lookup(ctx context.Context, identifier string) (*models.ComponentRecord, error)
}

// SupplierAdapter is the uniform contract over external component data
// sources. Query returns the matched record together with the supplier's
// match confidence (0-100). A supplier that has no match for the
// identifier returns a NotFoundError; that is a healthy answer, not a
// failure.
type SupplierAdapter interface {
	// Name identifies the supplier; it becomes the record's source tier.
	Name() string

	// Priority orders adapters in the chain; higher is queried first.
	Priority() int

	Query(ctx context.Context, identifier, manufacturer string, minConfidence float64) (*models.ComponentRecord, float64, error)
}
