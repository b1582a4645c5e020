package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"annotator/internal/adapter/fs"
	"annotator/internal/adapter/llm"
	"annotator/internal/adapter/prompt"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/adapter/store"
	"annotator/internal/domain"
	"annotator/internal/port"
)

func openStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "annotations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// driftedText has "Paris" at 10 and 500; the stored entity claims 15.
func driftedText() string {
	return "Visit the Paris office." + strings.Repeat(" ", 477) + "Paris"
}

func TestFixAnnotationPositions(t *testing.T) {
	text := driftedText()
	entities := []domain.Entity{{StartChar: 15, EndChar: 20, Text: "Paris", Label: "LOC"}}

	fixed, stats, err := FixAnnotationPositions(text, entities, "closest", false)
	require.NoError(t, err)
	assert.Equal(t, 10, fixed[0].StartChar)
	assert.Equal(t, 1, stats.Fixed)

	fixed, _, err = FixAnnotationPositions(text, entities, "FIRST", false)
	require.NoError(t, err)
	assert.Equal(t, 10, fixed[0].StartChar)

	_, _, err = FixAnnotationPositions(text, entities, "nearest", false)
	assert.ErrorIs(t, err, reconcile.ErrUnknownStrategy)
}

func TestValidateAnnotations(t *testing.T) {
	result, summary := ValidateAnnotations("Alice met Bob.", []domain.Entity{
		{StartChar: 0, EndChar: 5, Text: "Alice", Label: "PER"},
		{StartChar: 0, EndChar: 3, Text: "Bob", Label: "PER"},
	})
	assert.Equal(t, 1, result.Correct)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "failed", summary.Status)
	assert.Equal(t, 50.0, summary.AccuracyPercentage)
}

func TestRepairRecord(t *testing.T) {
	s := openStore(t)
	record, err := s.Put(domain.AnnotationRecord{
		Text:     driftedText(),
		Entities: []domain.Entity{{StartChar: 495, EndChar: 500, Text: "Paris", Label: "LOC"}},
	})
	require.NoError(t, err)

	review := NewReviewUseCase(s, zaptest.NewLogger(t))

	checked, err := review.ValidateRecord(record.ID)
	require.NoError(t, err)
	assert.True(t, checked.Summary.HasErrors)

	dry, err := review.RepairRecord(record.ID, "closest", false, false)
	require.NoError(t, err)
	assert.False(t, dry.Saved)
	assert.Equal(t, 500, dry.Record.Entities[0].StartChar)

	stored, err := s.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, 495, stored.Entities[0].StartChar)

	saved, err := review.RepairRecord(record.ID, "closest", false, true)
	require.NoError(t, err)
	assert.True(t, saved.Saved)
	assert.Equal(t, "passed", saved.After.Status)
	require.NotNil(t, saved.Record.FixStats)
	assert.Equal(t, 1, saved.Record.FixStats.Fixed)

	_, err = review.ValidateRecord("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluateMapsBatchIndices(t *testing.T) {
	entities := make([]domain.Entity, 23)
	for i := range entities {
		entities[i] = domain.Entity{StartChar: i, EndChar: i + 1, Text: "x", Label: "A"}
	}

	// Each batch answers only for its local entity 1.
	mock := &llm.MockClient{Responder: func(string) (string, error) {
		return `[{"entity_index":1,"recommendation":"change_label","suggested_label":"B","is_correct":false}]`, nil
	}}
	builder, err := prompt.NewBuilder()
	require.NoError(t, err)
	eval := NewEvaluateUseCase(mock, builder, nil, zaptest.NewLogger(t))

	evals, err := eval.Evaluate(context.Background(), nil, entities)
	require.NoError(t, err)
	require.Len(t, evals, 23)
	assert.Equal(t, 2, mock.Calls())

	for i, ev := range evals {
		assert.Equal(t, i, ev.EntityIndex)
		switch i {
		case 1, 21:
			assert.Equal(t, domain.RecommendChangeLabel, ev.Recommendation, "entity %d", i)
			assert.Equal(t, "A", ev.CurrentLabel)
		default:
			assert.Equal(t, domain.RecommendManualReview, ev.Recommendation, "entity %d", i)
		}
	}
}

func TestEvaluateFailedBatchFallsBackToReview(t *testing.T) {
	entities := []domain.Entity{{StartChar: 0, EndChar: 5, Text: "Alice", Label: "PER"}}

	mock := &llm.MockClient{Errors: []error{errors.New("connection reset")}}
	builder, err := prompt.NewBuilder()
	require.NoError(t, err)

	evals, err := NewEvaluateUseCase(mock, builder, nil, nil).Evaluate(context.Background(), nil, entities)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, domain.RecommendManualReview, evals[0].Recommendation)
	assert.Contains(t, evals[0].Reasoning, "connection reset")

	mock = &llm.MockClient{Errors: []error{errors.New("insufficient_quota: monthly quota exceeded")}}
	_, err = NewEvaluateUseCase(mock, builder, nil, nil).Evaluate(context.Background(), nil, entities)
	assert.ErrorIs(t, err, ErrRunAborted)
}

func TestEvaluateProseReplyIsNotFatal(t *testing.T) {
	entities := []domain.Entity{{StartChar: 0, EndChar: 7, Text: "API key", Label: "SECRET"}}

	mock := llm.NewMockClient(`I reviewed current_text "API key" but the authentication context is unclear.`)
	builder, err := prompt.NewBuilder()
	require.NoError(t, err)

	evals, err := NewEvaluateUseCase(mock, builder, nil, zaptest.NewLogger(t)).Evaluate(context.Background(), nil, entities)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, domain.RecommendManualReview, evals[0].Recommendation)
	assert.Contains(t, evals[0].Reasoning, "evaluation failed")
}

func TestEvaluateRecord(t *testing.T) {
	s := openStore(t)
	record, err := s.Put(domain.AnnotationRecord{
		Text:     "Alice met Bob.",
		Tags:     []domain.TagDefinition{{Name: "PER"}},
		Entities: []domain.Entity{{StartChar: 0, EndChar: 5, Text: "Alice", Label: "PER"}},
	})
	require.NoError(t, err)

	builder, err := prompt.NewBuilder()
	require.NoError(t, err)
	mock := llm.NewMockClient(`{"evaluations":[{"entity_index":0,"recommendation":"keep","is_correct":true}]}`)

	updated, err := NewEvaluateUseCase(mock, builder, s, nil).EvaluateRecord(context.Background(), record.ID, nil)
	require.NoError(t, err)
	require.Len(t, updated.Evaluations, 1)
	assert.Equal(t, domain.RecommendKeep, updated.Evaluations[0].Recommendation)
	assert.Contains(t, mock.Prompts()[0], `"Alice"`)
}

func TestApplyRecommendations(t *testing.T) {
	entities := []domain.Entity{
		{StartChar: 0, EndChar: 1, Text: "a", Label: "X"},
		{StartChar: 2, EndChar: 3, Text: "b", Label: "X"},
		{StartChar: 4, EndChar: 5, Text: "c", Label: "X"},
		{StartChar: 6, EndChar: 7, Text: "d", Label: "X"},
	}
	y := "Y"
	evals := []domain.EntityEvaluation{
		{EntityIndex: 0, Recommendation: domain.RecommendDelete},
		{EntityIndex: 1, Recommendation: domain.RecommendChangeLabel, SuggestedLabel: &y},
		{EntityIndex: 2, Recommendation: domain.RecommendDelete},
		{EntityIndex: 3, Recommendation: domain.RecommendDelete},
	}

	out, changes := ApplyRecommendations(entities, evals, []int{2, 0, 1, 1, 9})
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Text)
	assert.Equal(t, "Y", out[0].Label)
	assert.Equal(t, "d", out[1].Text)
	assert.Len(t, changes, 3)

	assert.Equal(t, "X", entities[1].Label, "input must not be modified")
}

func TestAnnotateFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a.txt", "Paris is big.")
	write("b.txt", "   ")
	write("c.txt", "Lyon and Paris.")

	files, err := fs.NewWalker(nil, nil).Walk(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)

	s := openStore(t)
	mock := &llm.MockClient{Responder: findAll("Paris", "LOC")}
	uc := NewStoreUseCase(newPipeline(t, mock, AnnotateOptions{}), s, zaptest.NewLogger(t))

	var seen []string
	result, err := uc.AnnotateFiles(context.Background(), files, locTags, nil, "atlas", func(fr FileResult) {
		seen = append(seen, fr.Path)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, seen)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.Files[1].Err, ErrEmptyText)

	records, total, err := s.List(port.RecordFilter{ProjectID: "atlas"}, port.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range records {
		assert.Len(t, r.Entities, 1)
		assert.Equal(t, "mock", r.Model)
		assert.NotEmpty(t, r.Chunks)
	}
}

func TestAnnotateFilesStopsOnAbort(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%d.txt", i))
		require.NoError(t, os.WriteFile(name, []byte("Some text."), 0o644))
	}
	files, err := fs.NewWalker(nil, nil).Walk(dir)
	require.NoError(t, err)

	mock := &llm.MockClient{Responder: func(string) (string, error) {
		return "", errors.New("401 Unauthorized")
	}}
	uc := NewStoreUseCase(newPipeline(t, mock, AnnotateOptions{}), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := uc.AnnotateFiles(ctx, files, locTags, nil, "", nil)
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.True(t, result.Aborted)
	assert.Len(t, result.Files, 1)
	assert.Equal(t, 1, mock.Calls())
}
