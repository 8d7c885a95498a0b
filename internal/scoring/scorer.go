// Package scoring turns a normalized component record into a quality
// score and a routing decision. Scoring is deterministic and side-effect
// free: the same record always yields the same result and the input is
// never mutated, so a score can be recomputed from the audit trail at any
// time.
package scoring

import (
	"fmt"
	"sort"

	"bom-enricher/internal/models"
)

// Score weights. They sum to 1.0 so the weighted total stays on the
// same 0-100 scale as the sub-scores.
const (
	weightCompleteness       = 0.40
	weightSourceQuality      = 0.30
	weightSpecExtraction     = 0.20
	weightCategoryConfidence = 0.10
)

// Routing thresholds on the 0-100 total.
const (
	productionThreshold = 95.0
	stagingThreshold    = 70.0
)

// Sub-score floors below which a triage issue is attached. Issues never
// block scoring; they only annotate it.
const (
	sourceQualityFloor  = 50.0
	specExtractionFloor = 50.0
)

// requiredFields are the fields counted toward completeness.
var requiredFields = []string{"identifier", "manufacturer", "description", "category"}

// Config holds the tunable inputs of the scorer. The checklist is the
// fixed set of specification parameters extraction is measured against;
// it is configuration, not code, because different deployments care
// about different parameter sets.
type Config struct {
	// Checklist is the list of specification parameter names counted
	// toward the spec_extraction sub-score.
	Checklist []string

	// SourceTrust maps a source tier to its trust score (0-100).
	// Sources absent from the map score zero.
	SourceTrust map[models.SourceTier]float64
}

// DefaultSourceTrust returns the standard trust tiers: the local catalog
// is fully trusted, ranked suppliers step down from there and unknown
// sources contribute nothing.
func DefaultSourceTrust() map[models.SourceTier]float64 {
	return map[models.SourceTier]float64{
		models.SourceLocalCatalog: 100,
		"octopart":                90,
		"digikey":                 90,
		"mouser":                  85,
		"community":               50,
	}
}

// Scorer computes QualityScoreResults. Construct once at startup and
// share freely; it holds no mutable state.
type Scorer struct {
	checklist   []string
	sourceTrust map[models.SourceTier]float64
}

// NewScorer builds a scorer from config, applying DefaultSourceTrust
// when no trust map is given.
func NewScorer(config Config) (*Scorer, error) {
	if len(config.Checklist) == 0 {
		return nil, fmt.Errorf("scoring checklist must not be empty")
	}

	trust := config.SourceTrust
	if trust == nil {
		trust = DefaultSourceTrust()
	}

	checklist := make([]string, len(config.Checklist))
	copy(checklist, config.Checklist)

	trustCopy := make(map[models.SourceTier]float64, len(trust))
	for k, v := range trust {
		trustCopy[k] = v
	}

	return &Scorer{
		checklist:   checklist,
		sourceTrust: trustCopy,
	}, nil
}

// Score computes the weighted quality score and routing decision for a
// record. The record is read, never written.
func (s *Scorer) Score(record *models.ComponentRecord) models.QualityScoreResult {
	var issues []string

	completeness, missing := s.completeness(record)
	for _, field := range missing {
		issues = append(issues, fmt.Sprintf("missing required field: %s", field))
	}

	sourceQuality := s.sourceTrust[record.SourceTier]
	if sourceQuality < sourceQualityFloor {
		issues = append(issues, fmt.Sprintf("low-trust source: %s", record.SourceTier))
	}

	specExtraction := s.specExtraction(record)
	if specExtraction < specExtractionFloor {
		issues = append(issues, "sparse specification extraction")
	}

	categoryConfidence := record.CategoryConfidence
	if categoryConfidence < 0 {
		categoryConfidence = 0
	}
	if categoryConfidence > 100 {
		categoryConfidence = 100
	}
	if categoryConfidence == 0 {
		issues = append(issues, "missing category confidence")
	}

	if record.DatasheetURL == "" {
		issues = append(issues, "missing datasheet URL")
	}

	total := completeness*weightCompleteness +
		sourceQuality*weightSourceQuality +
		specExtraction*weightSpecExtraction +
		categoryConfidence*weightCategoryConfidence

	return models.QualityScoreResult{
		TotalScore: total,
		SubScores: models.SubScores{
			Completeness:       completeness,
			SourceQuality:      sourceQuality,
			SpecExtraction:     specExtraction,
			CategoryConfidence: categoryConfidence,
		},
		Routing: Route(total),
		Issues:  issues,
	}
}

// Route maps a total score to its quality tier: ≥95 PRODUCTION,
// [70, 95) STAGING, below 70 REJECTED.
func Route(total float64) models.Routing {
	switch {
	case total >= productionThreshold:
		return models.RoutingProduction
	case total >= stagingThreshold:
		return models.RoutingStaging
	default:
		return models.RoutingRejected
	}
}

// completeness is the fraction of required fields present, scaled to
// 0-100, along with the names of the missing ones in a stable order.
func (s *Scorer) completeness(record *models.ComponentRecord) (float64, []string) {
	present := 0
	var missing []string

	for _, field := range requiredFields {
		var value string
		switch field {
		case "identifier":
			value = record.Identifier
		case "manufacturer":
			value = record.Manufacturer
		case "description":
			value = record.Description
		case "category":
			value = record.Category
		}
		if value != "" {
			present++
		} else {
			missing = append(missing, field)
		}
	}

	sort.Strings(missing)
	return float64(present) / float64(len(requiredFields)) * 100, missing
}

// specExtraction is the fraction of checklist parameters present on the
// record, scaled to 0-100.
func (s *Scorer) specExtraction(record *models.ComponentRecord) float64 {
	extracted := 0
	for _, name := range s.checklist {
		if _, ok := record.Spec(name); ok {
			extracted++
		}
	}
	return float64(extracted) / float64(len(s.checklist)) * 100
}
