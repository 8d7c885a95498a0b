// Package storage defines the persistence contract of the pipeline. The
// relational store is the system of record for enriched components and
// their audit history; the risk cache and workflow checkpoints are
// derived state living elsewhere.
package storage

import (
	"context"

	"bom-enricher/internal/models"
)

// Sink persists enrichment results. Save must write the component record
// and its history entry in one transaction: history with no matching
// record state (or the reverse) would corrupt the audit trail.
//
// Sink also serves as the local catalog: Lookup returns a previously
// persisted record by identifier, or a NotFoundError on a miss.
type Sink interface {
	Save(ctx context.Context, record *models.ComponentRecord, entry *models.EnrichmentHistoryEntry) error

	// SaveHistory records an attempt that produced no component record,
	// such as a terminal failure before normalization.
	SaveHistory(ctx context.Context, entry *models.EnrichmentHistoryEntry) error

	Lookup(ctx context.Context, identifier string) (*models.ComponentRecord, error)

	// History returns the most recent attempts for a business key, newest
	// first.
	History(ctx context.Context, businessKey string, limit int) ([]*models.EnrichmentHistoryEntry, error)

	Health() error
	Close() error
}
