package usecase

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"annotator/internal/adapter/llm"
	"annotator/internal/domain"
	"annotator/internal/port"
)

// EvaluationBatchSize is the number of entities judged per LLM call.
const EvaluationBatchSize = 20

type EvaluationPrompter interface {
	Evaluation(tags []domain.TagDefinition, entities []domain.Entity) (string, error)
}

// EvaluateUseCase asks a model to judge whether each entity's label fits.
type EvaluateUseCase struct {
	llm       port.LLM
	prompts   EvaluationPrompter
	store     port.AnnotationStore
	logger    *zap.Logger
	batchSize int
}

// NewEvaluateUseCase creates an evaluator. store may be nil when only
// Evaluate is used.
func NewEvaluateUseCase(model port.LLM, prompts EvaluationPrompter, store port.AnnotationStore, logger *zap.Logger) *EvaluateUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluateUseCase{
		llm:       model,
		prompts:   prompts,
		store:     store,
		logger:    logger,
		batchSize: EvaluationBatchSize,
	}
}

// Evaluate returns one verdict per entity, in entity order. Entities the
// model skipped, or whose batch failed, get a manual_review verdict. A
// fatal provider error stops the evaluation.
func (u *EvaluateUseCase) Evaluate(ctx context.Context, tags []domain.TagDefinition, entities []domain.Entity) ([]domain.EntityEvaluation, error) {
	evals := make([]domain.EntityEvaluation, len(entities))
	for i, e := range entities {
		evals[i] = pendingReview(i, e, "no verdict returned")
	}

	for start := 0; start < len(entities); start += u.batchSize {
		end := min(start+u.batchSize, len(entities))
		batch := entities[start:end]

		verdicts, err := u.evaluateBatch(ctx, tags, batch)
		if err != nil {
			if llm.IsFatal(err) {
				return nil, fmt.Errorf("%w: %w", ErrRunAborted, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			u.logger.Warn("evaluation batch failed",
				zap.Int("first_entity", start),
				zap.Int("entities", len(batch)),
				zap.Error(err))
			for i := start; i < end; i++ {
				evals[i] = pendingReview(i, entities[i], "evaluation failed: "+err.Error())
			}
			continue
		}

		for _, v := range verdicts {
			if v.EntityIndex < 0 || v.EntityIndex >= len(batch) {
				continue
			}
			global := start + v.EntityIndex
			v.EntityIndex = global
			if v.CurrentText == "" {
				v.CurrentText = entities[global].Text
			}
			if v.CurrentLabel == "" {
				v.CurrentLabel = entities[global].Label
			}
			evals[global] = v
		}
	}

	return evals, nil
}

func (u *EvaluateUseCase) evaluateBatch(ctx context.Context, tags []domain.TagDefinition, batch []domain.Entity) ([]domain.EntityEvaluation, error) {
	prompt, err := u.prompts.Evaluation(tags, batch)
	if err != nil {
		return nil, err
	}
	completion, err := u.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	verdicts, err := llm.ParseEvaluations(completion.Text)
	if err != nil {
		u.logger.Warn("unparseable evaluation reply", zap.String("preview", llm.Preview(completion.Text)))
		return nil, err
	}
	return verdicts, nil
}

// EvaluateRecord evaluates a stored record and saves the verdicts. With no
// tags given, the record's own tag set is used.
func (u *EvaluateUseCase) EvaluateRecord(ctx context.Context, id string, tags []domain.TagDefinition) (domain.AnnotationRecord, error) {
	record, err := u.store.Get(id)
	if err != nil {
		return domain.AnnotationRecord{}, fmt.Errorf("failed to load annotation %s: %w", id, err)
	}
	if len(tags) == 0 {
		tags = record.Tags
	}
	evals, err := u.Evaluate(ctx, tags, record.Entities)
	if err != nil {
		return domain.AnnotationRecord{}, err
	}
	updated, err := u.store.RecordEvaluation(id, evals)
	if err != nil {
		return domain.AnnotationRecord{}, fmt.Errorf("failed to save evaluation for %s: %w", id, err)
	}
	u.logger.Info("evaluation saved", zap.String("id", id), zap.Int("entities", len(evals)))
	return updated, nil
}

func pendingReview(i int, e domain.Entity, reason string) domain.EntityEvaluation {
	return domain.EntityEvaluation{
		EntityIndex:    i,
		CurrentText:    e.Text,
		CurrentLabel:   e.Label,
		Recommendation: domain.RecommendManualReview,
		Reasoning:      reason,
	}
}

// ApplyRecommendations applies the verdicts for the selected entity indices.
// Label changes are applied first, then deletions from the highest index
// down so earlier indices stay valid. It returns the new entity list and a
// line per change made.
func ApplyRecommendations(entities []domain.Entity, evals []domain.EntityEvaluation, selected []int) ([]domain.Entity, []string) {
	out := append([]domain.Entity(nil), entities...)
	byIndex := make(map[int]domain.EntityEvaluation, len(evals))
	for _, ev := range evals {
		byIndex[ev.EntityIndex] = ev
	}

	var (
		changes   []string
		deletions []int
	)
	seen := make(map[int]bool, len(selected))
	for _, idx := range selected {
		if seen[idx] || idx < 0 || idx >= len(out) {
			continue
		}
		seen[idx] = true
		ev, ok := byIndex[idx]
		if !ok {
			continue
		}
		switch ev.Recommendation {
		case domain.RecommendChangeLabel:
			if ev.SuggestedLabel == nil || *ev.SuggestedLabel == out[idx].Label {
				continue
			}
			changes = append(changes, fmt.Sprintf("entity %d %q: label %s -> %s",
				idx, out[idx].Text, out[idx].Label, *ev.SuggestedLabel))
			out[idx].Label = *ev.SuggestedLabel
		case domain.RecommendDelete:
			deletions = append(deletions, idx)
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(deletions)))
	for _, idx := range deletions {
		changes = append(changes, fmt.Sprintf("entity %d %q: deleted", idx, out[idx].Text))
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, changes
}
