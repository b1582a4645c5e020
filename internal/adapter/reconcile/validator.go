package reconcile

import (
	"math"
	"sort"

	"annotator/internal/domain"
)

// Validate checks every entity against the document. Mismatches are reported
// as data. Overlap warnings cover adjacent pairs in start order, so they
// describe what survived deduplication.
func Validate(doc *domain.Document, entities []domain.Entity) domain.ValidationResult {
	result := domain.ValidationResult{
		Total:    len(entities),
		Errors:   []domain.ValidationError{},
		Warnings: []domain.ValidationWarning{},
	}

	for i, e := range entities {
		if !doc.InBounds(e.StartChar, e.EndChar) {
			result.Errors = append(result.Errors, domain.ValidationError{
				Index:        i,
				Reason:       domain.ReasonInvalidPosition,
				ExpectedText: e.Text,
				StartChar:    e.StartChar,
				EndChar:      e.EndChar,
				Label:        e.Label,
			})
			continue
		}
		actual := doc.Slice(e.StartChar, e.EndChar)
		if actual != e.Text {
			result.Errors = append(result.Errors, domain.ValidationError{
				Index:        i,
				Reason:       domain.ReasonTextMismatch,
				ExpectedText: e.Text,
				ActualText:   &actual,
				StartChar:    e.StartChar,
				EndChar:      e.EndChar,
				Label:        e.Label,
			})
			continue
		}
		result.Correct++
	}

	order := make([]int, len(entities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return entities[order[a]].StartChar < entities[order[b]].StartChar
	})

	for k := 0; k+1 < len(order); k++ {
		cur, next := entities[order[k]], entities[order[k+1]]
		if cur.EndChar > next.StartChar {
			result.Warnings = append(result.Warnings, domain.ValidationWarning{
				Type:     domain.WarningOverlap,
				Indices:  []int{order[k], order[k+1]},
				Entities: []domain.Entity{cur, next},
			})
		}
	}

	for i, e := range entities {
		if e.StartChar == e.EndChar {
			result.Warnings = append(result.Warnings, domain.ValidationWarning{
				Type:     domain.WarningZeroLength,
				Indices:  []int{i},
				Entities: []domain.Entity{e},
			})
		}
	}

	return result
}

// Summarize condenses a validation result for display.
func Summarize(r domain.ValidationResult) domain.ValidationSummary {
	accuracy := 0.0
	if r.Total > 0 {
		accuracy = math.Round(float64(r.Correct)/float64(r.Total)*10000) / 100
	}
	status := "passed"
	if len(r.Errors) > 0 {
		status = "failed"
	}
	return domain.ValidationSummary{
		Total:              r.Total,
		Correct:            r.Correct,
		ErrorCount:         len(r.Errors),
		WarningCount:       len(r.Warnings),
		AccuracyPercentage: accuracy,
		HasErrors:          len(r.Errors) > 0,
		HasWarnings:        len(r.Warnings) > 0,
		Status:             status,
	}
}

// Valid returns the entities that satisfy the offset invariant and how many
// were dropped.
func Valid(doc *domain.Document, entities []domain.Entity) ([]domain.Entity, int) {
	kept := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		if doc.Matches(e) {
			kept = append(kept, e)
		}
	}
	return kept, len(entities) - len(kept)
}
