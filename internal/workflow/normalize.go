package workflow

import (
	"strings"

	"bom-enricher/internal/models"
)

// Normalize maps a raw supplier record into canonical shape: trimmed
// fields, snake_case specification names, empty and duplicate parameters
// dropped (first occurrence wins). Pure and non-retryable; the input is
// never mutated.
func Normalize(record *models.ComponentRecord) *models.ComponentRecord {
	out := record.Clone()

	out.Identifier = strings.TrimSpace(out.Identifier)
	out.Manufacturer = strings.TrimSpace(out.Manufacturer)
	out.Description = strings.TrimSpace(out.Description)
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	out.LifecycleStatus = strings.ToLower(strings.TrimSpace(out.LifecycleStatus))
	out.DatasheetURL = strings.TrimSpace(out.DatasheetURL)

	seen := make(map[string]bool, len(out.Specifications))
	specs := make([]models.SpecValue, 0, len(out.Specifications))
	for _, spec := range out.Specifications {
		name := canonicalSpecName(spec.Name)
		value := strings.TrimSpace(spec.Value)
		if name == "" || value == "" || seen[name] {
			continue
		}
		seen[name] = true
		specs = append(specs, models.SpecValue{Name: name, Value: value})
	}
	out.Specifications = specs

	flags := make([]string, 0, len(out.ComplianceFlags))
	for _, flag := range out.ComplianceFlags {
		if trimmed := strings.TrimSpace(flag); trimmed != "" {
			flags = append(flags, trimmed)
		}
	}
	out.ComplianceFlags = flags

	return out
}

// canonicalSpecName lowercases and snake_cases a supplier parameter name
// so it can match the scoring checklist.
func canonicalSpecName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}
