package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"annotator/internal/adapter/metrics"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/domain"
	"annotator/internal/port"
)

// ValidateAnnotations checks every entity against text.
func ValidateAnnotations(text string, entities []domain.Entity) (domain.ValidationResult, domain.ValidationSummary) {
	result := reconcile.Validate(domain.NewDocument(text), entities)
	return result, reconcile.Summarize(result)
}

// FixAnnotationPositions relocates entities whose offsets drifted. The
// strategy name is "closest" or "first".
func FixAnnotationPositions(text string, entities []domain.Entity, strategy string, fuzzy bool) ([]domain.Entity, domain.FixStats, error) {
	s, err := reconcile.ParseStrategy(strategy)
	if err != nil {
		return nil, domain.FixStats{}, err
	}
	fixed, stats := reconcile.RepairWithOptions(domain.NewDocument(text), entities, reconcile.RepairOptions{
		Strategy: s,
		Fuzzy:    fuzzy,
	})
	metrics.RecordRepair(stats)
	return fixed, stats, nil
}

// ReviewUseCase validates and repairs stored records.
type ReviewUseCase struct {
	store  port.AnnotationStore
	logger *zap.Logger
}

func NewReviewUseCase(store port.AnnotationStore, logger *zap.Logger) *ReviewUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewUseCase{store: store, logger: logger}
}

type ValidateRecordResult struct {
	Record  domain.AnnotationRecord
	Result  domain.ValidationResult
	Summary domain.ValidationSummary
}

func (u *ReviewUseCase) ValidateRecord(id string) (*ValidateRecordResult, error) {
	record, err := u.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation %s: %w", id, err)
	}
	result, summary := ValidateAnnotations(record.Text, record.Entities)
	return &ValidateRecordResult{Record: record, Result: result, Summary: summary}, nil
}

type RepairRecordResult struct {
	Record domain.AnnotationRecord
	Stats  domain.FixStats
	Saved  bool
	// After is the validation summary of the repaired entities.
	After domain.ValidationSummary
}

// RepairRecord repairs a stored record. With save set and at least one
// entity fixed, the repaired entities replace the stored ones.
func (u *ReviewUseCase) RepairRecord(id, strategy string, fuzzy, save bool) (*RepairRecordResult, error) {
	record, err := u.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotation %s: %w", id, err)
	}

	fixed, stats, err := FixAnnotationPositions(record.Text, record.Entities, strategy, fuzzy)
	if err != nil {
		return nil, err
	}
	_, after := ValidateAnnotations(record.Text, fixed)

	out := &RepairRecordResult{Record: record, Stats: stats, After: after}
	out.Record.Entities = fixed

	if save && stats.Fixed > 0 {
		updated, err := u.store.UpdateEntities(id, fixed, &stats)
		if err != nil {
			return nil, fmt.Errorf("failed to save repaired annotation %s: %w", id, err)
		}
		out.Record = updated
		out.Saved = true
		u.logger.Info("repaired annotation saved",
			zap.String("id", id),
			zap.Int("fixed", stats.Fixed),
			zap.Int("unfixable", stats.Unfixable))
	}
	return out, nil
}
