package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bom-enricher/internal/models"
)

var testChecklist = []string{
	"resistance", "capacitance", "inductance", "tolerance",
	"voltage_rating", "current_rating", "power_rating",
	"operating_temperature_min", "operating_temperature_max",
	"package_case", "mounting_type", "pin_count",
	"frequency", "dielectric", "interface", "supply_voltage",
	"output_type", "channels", "memory_size", "core_architecture",
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(Config{Checklist: testChecklist})
	require.NoError(t, err)
	return scorer
}

// fullRecord builds a record that scores a perfect 100.
func fullRecord() *models.ComponentRecord {
	specs := make([]models.SpecValue, 0, len(testChecklist))
	for i, name := range testChecklist {
		specs = append(specs, models.SpecValue{Name: name, Value: fmt.Sprintf("v%d", i)})
	}
	return &models.ComponentRecord{
		Identifier:         "MPN-100",
		Manufacturer:       "Acme Semi",
		Description:        "1k 1% 0402 chip resistor",
		Category:           "resistors",
		Specifications:     specs,
		DatasheetURL:       "https://example.com/ds.pdf",
		SourceTier:         models.SourceLocalCatalog,
		CategoryConfidence: 100,
	}
}

func TestNewScorer_EmptyChecklist(t *testing.T) {
	_, err := NewScorer(Config{})
	require.Error(t, err)
}

func TestNewScorer_CopiesConfig(t *testing.T) {
	checklist := []string{"resistance", "tolerance"}
	trust := map[models.SourceTier]float64{models.SourceLocalCatalog: 100}

	scorer, err := NewScorer(Config{Checklist: checklist, SourceTrust: trust})
	require.NoError(t, err)

	checklist[0] = "mutated"
	trust[models.SourceLocalCatalog] = 0

	record := fullRecord()
	result := scorer.Score(record)
	assert.Equal(t, 100.0, result.SubScores.SourceQuality)
	assert.Equal(t, 100.0, result.SubScores.SpecExtraction)
}

func TestScore_PerfectRecord(t *testing.T) {
	result := newTestScorer(t).Score(fullRecord())

	assert.Equal(t, 100.0, result.TotalScore)
	assert.Equal(t, models.RoutingProduction, result.Routing)
	assert.Empty(t, result.Issues)
	assert.Equal(t, models.SubScores{
		Completeness:       100,
		SourceQuality:      100,
		SpecExtraction:     100,
		CategoryConfidence: 100,
	}, result.SubScores)
}

func TestScore_EmptyRecord(t *testing.T) {
	result := newTestScorer(t).Score(&models.ComponentRecord{SourceTier: models.SourceUnknown})

	assert.Equal(t, 0.0, result.TotalScore)
	assert.Equal(t, models.RoutingRejected, result.Routing)
	assert.Contains(t, result.Issues, "missing required field: identifier")
	assert.Contains(t, result.Issues, "missing required field: manufacturer")
	assert.Contains(t, result.Issues, "missing required field: description")
	assert.Contains(t, result.Issues, "missing required field: category")
	assert.Contains(t, result.Issues, "low-trust source: unknown")
	assert.Contains(t, result.Issues, "sparse specification extraction")
	assert.Contains(t, result.Issues, "missing category confidence")
	assert.Contains(t, result.Issues, "missing datasheet URL")
}

func TestScore_WeightedTotal(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*models.ComponentRecord)
		wantTotal   float64
		wantRouting models.Routing
	}{
		{
			name:        "perfect",
			mutate:      func(r *models.ComponentRecord) {},
			wantTotal:   100,
			wantRouting: models.RoutingProduction,
		},
		{
			// confidence at 50 costs exactly 5 points, landing on the
			// production threshold
			name:        "confidence 50 lands exactly on production threshold",
			mutate:      func(r *models.ComponentRecord) { r.CategoryConfidence = 50 },
			wantTotal:   95,
			wantRouting: models.RoutingProduction,
		},
		{
			name:        "confidence 49 drops just below production",
			mutate:      func(r *models.ComponentRecord) { r.CategoryConfidence = 49 },
			wantTotal:   94.9,
			wantRouting: models.RoutingStaging,
		},
		{
			// losing spec extraction and confidence entirely leaves the
			// completeness and source weights: 40 + 30 = 70
			name: "staging floor exactly",
			mutate: func(r *models.ComponentRecord) {
				r.Specifications = nil
				r.CategoryConfidence = 0
			},
			wantTotal:   70,
			wantRouting: models.RoutingStaging,
		},
		{
			name: "just below staging floor",
			mutate: func(r *models.ComponentRecord) {
				r.Specifications = nil
				r.CategoryConfidence = 0
				r.Category = ""
			},
			wantTotal:   60,
			wantRouting: models.RoutingRejected,
		},
		{
			// supplier-sourced record with 8 of 20 checklist parameters:
			// 40 + 0.3*90 + 0.2*40 + 0.1*92 = 84.2
			name: "typical supplier record routes to staging",
			mutate: func(r *models.ComponentRecord) {
				r.SourceTier = "digikey"
				r.Specifications = r.Specifications[:8]
				r.CategoryConfidence = 92
			},
			wantTotal:   84.2,
			wantRouting: models.RoutingStaging,
		},
	}

	scorer := newTestScorer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := fullRecord()
			tt.mutate(record)

			result := scorer.Score(record)

			assert.InDelta(t, tt.wantTotal, result.TotalScore, 1e-9)
			assert.Equal(t, tt.wantRouting, result.Routing)
		})
	}
}

func TestRoute_Boundaries(t *testing.T) {
	tests := []struct {
		total float64
		want  models.Routing
	}{
		{100, models.RoutingProduction},
		{95.0, models.RoutingProduction},
		{94.9, models.RoutingStaging},
		{70.0, models.RoutingStaging},
		{69.9, models.RoutingRejected},
		{0, models.RoutingRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.total))
		})
	}
}

func TestScore_ConfidenceClamped(t *testing.T) {
	scorer := newTestScorer(t)

	over := fullRecord()
	over.CategoryConfidence = 250
	assert.Equal(t, 100.0, scorer.Score(over).SubScores.CategoryConfidence)

	under := fullRecord()
	under.CategoryConfidence = -5
	result := scorer.Score(under)
	assert.Equal(t, 0.0, result.SubScores.CategoryConfidence)
	assert.Contains(t, result.Issues, "missing category confidence")
}

func TestScore_CustomTrustMap(t *testing.T) {
	scorer, err := NewScorer(Config{
		Checklist: testChecklist,
		SourceTrust: map[models.SourceTier]float64{
			"inhouse-lab": 75,
		},
	})
	require.NoError(t, err)

	record := fullRecord()
	record.SourceTier = "inhouse-lab"
	assert.Equal(t, 75.0, scorer.Score(record).SubScores.SourceQuality)

	// Local catalog is absent from the custom map, so it scores zero
	record.SourceTier = models.SourceLocalCatalog
	result := scorer.Score(record)
	assert.Equal(t, 0.0, result.SubScores.SourceQuality)
	assert.Contains(t, result.Issues, "low-trust source: local_catalog")
}

func TestScore_MissingDatasheetIsIssueOnly(t *testing.T) {
	record := fullRecord()
	record.DatasheetURL = ""

	result := newTestScorer(t).Score(record)

	assert.Equal(t, 100.0, result.TotalScore, "datasheet presence annotates, never scores")
	assert.Contains(t, result.Issues, "missing datasheet URL")
}

func TestScore_Deterministic(t *testing.T) {
	scorer := newTestScorer(t)
	record := fullRecord()
	record.Specifications = record.Specifications[:8]
	record.CategoryConfidence = 92

	first := scorer.Score(record)
	second := scorer.Score(record)

	assert.Equal(t, first, second)
}

func TestScore_DoesNotMutateRecord(t *testing.T) {
	record := fullRecord()
	record.Specifications = record.Specifications[:5]
	before := record.Clone()

	newTestScorer(t).Score(record)

	assert.Equal(t, before, record)
}
