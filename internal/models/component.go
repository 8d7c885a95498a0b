// Package models defines the core data shapes shared across the enrichment
// pipeline: the component record being enriched, quality scoring results,
// audit history entries, and the cached risk read model.
package models

import (
	"time"
)

// SourceTier identifies where an enriched record came from.
type SourceTier string

const (
	// SourceLocalCatalog means the record was found in the local catalog.
	SourceLocalCatalog SourceTier = "local_catalog"
	// SourceUnknown means the record's origin could not be determined.
	SourceUnknown SourceTier = "unknown"
)

// Routing is the quality tier a scored record is routed to.
type Routing string

const (
	RoutingProduction Routing = "PRODUCTION"
	RoutingStaging    Routing = "STAGING"
	RoutingRejected   Routing = "REJECTED"
)

// SpecValue is a single extracted specification parameter. Specifications
// are kept as an ordered slice rather than a map so that extraction order
// survives serialization.
type SpecValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Pricing holds supplier pricing information for a component.
type Pricing struct {
	Currency   string  `json:"currency,omitempty"`
	UnitPrice  float64 `json:"unit_price,omitempty"`
	BreakQty   int     `json:"break_qty,omitempty"`
	StockLevel int     `json:"stock_level,omitempty"`
}

// ComponentRecord is the entity being enriched. It is mutated only by the
// workflow run that holds the lock for its business key; after persistence
// ownership transfers to the storage layer.
type ComponentRecord struct {
	Identifier         string      `json:"identifier"`
	Manufacturer       string      `json:"manufacturer"`
	Description        string      `json:"description"`
	Category           string      `json:"category"`
	Specifications     []SpecValue `json:"specifications,omitempty"`
	ComplianceFlags    []string    `json:"compliance_flags,omitempty"`
	Pricing            *Pricing    `json:"pricing,omitempty"`
	LifecycleStatus    string      `json:"lifecycle_status,omitempty"`
	DatasheetURL       string      `json:"datasheet_url,omitempty"`
	SourceTier         SourceTier  `json:"source_tier"`
	CategoryConfidence float64     `json:"category_confidence,omitempty"`
	QualityScore       float64     `json:"quality_score,omitempty"`
	RoutingDecision    Routing     `json:"routing_decision,omitempty"`
}

// Spec returns the value of the named specification parameter and whether
// it is present and non-empty.
func (c *ComponentRecord) Spec(name string) (string, bool) {
	for _, s := range c.Specifications {
		if s.Name == name && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the record. The scorer and normalizer use
// this to guarantee they never mutate caller-owned state.
func (c *ComponentRecord) Clone() *ComponentRecord {
	out := *c
	if c.Specifications != nil {
		out.Specifications = make([]SpecValue, len(c.Specifications))
		copy(out.Specifications, c.Specifications)
	}
	if c.ComplianceFlags != nil {
		out.ComplianceFlags = make([]string, len(c.ComplianceFlags))
		copy(out.ComplianceFlags, c.ComplianceFlags)
	}
	if c.Pricing != nil {
		p := *c.Pricing
		out.Pricing = &p
	}
	return &out
}

// SubScores holds the weighted components of a quality score.
type SubScores struct {
	Completeness       float64 `json:"completeness"`
	SourceQuality      float64 `json:"source_quality"`
	SpecExtraction     float64 `json:"spec_extraction"`
	CategoryConfidence float64 `json:"category_confidence"`
}

// QualityScoreResult is the immutable output of one scoring pass.
type QualityScoreResult struct {
	TotalScore float64   `json:"total_score"`
	SubScores  SubScores `json:"sub_scores"`
	Routing    Routing   `json:"routing"`
	Issues     []string  `json:"issues,omitempty"`
}

// HistoryStatus is the terminal status recorded for an enrichment attempt.
type HistoryStatus string

const (
	HistoryApproved HistoryStatus = "approved"
	HistoryRejected HistoryStatus = "rejected"
	HistoryError    HistoryStatus = "error"
)

// EnrichmentHistoryEntry is the append-only audit record written once per
// enrichment attempt, success or failure. It is never mutated or deleted
// by the pipeline.
type EnrichmentHistoryEntry struct {
	ID             string        `json:"id"`
	BusinessKey    string        `json:"business_key"`
	TenantID       string        `json:"tenant_id"`
	AttemptedAt    time.Time     `json:"attempted_at"`
	Status         HistoryStatus `json:"status"`
	QualityScore   float64       `json:"quality_score"`
	Source         string        `json:"source"`
	ProcessingTime time.Duration `json:"processing_time"`
	Issues         []string      `json:"issues,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	LastStep       string        `json:"last_step,omitempty"`
}

// CachedRiskEntry is the derived read-model row written by the risk cache
// consumer. It is never the source of truth and may be dropped at any time.
type CachedRiskEntry struct {
	TenantID    string    `json:"tenant_id"`
	ComponentID string    `json:"component_id"`
	TotalScore  float64   `json:"total_score"`
	SubScores   SubScores `json:"sub_scores"`
	CachedAt    time.Time `json:"cached_at"`
}
