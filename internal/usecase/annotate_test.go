package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"annotator/config"
	"annotator/internal/adapter/chunker"
	"annotator/internal/adapter/cost"
	"annotator/internal/adapter/llm"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/domain"
	"annotator/internal/port"
)

// Chunked with size 30, overlap 12 and the default lookback this gives
// [0,24) [12,42) [30,48). "Paris" sits at 17 and 38, so the first two chunks
// both see the one at 17 and the second cuts the other one short.
const parisText = "John Doe visited Paris. Alice went to Paris too."

var locTags = []domain.TagDefinition{{Name: "LOC", Definition: "a location"}}

// chunkPrompts renders the chunk text alone, so scripted models see exactly
// what they annotate.
type chunkPrompts struct{}

func (chunkPrompts) Annotation(_ []domain.TagDefinition, text string, _ []domain.FewShotExample) (string, error) {
	return text, nil
}

// findAll answers with every occurrence of word, using chunk-local offsets.
func findAll(word, label string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		doc := domain.NewDocument(prompt)
		var items []string
		for _, pos := range doc.IndexAll(word) {
			items = append(items, fmt.Sprintf(`{"start_char":%d,"end_char":%d,"text":%q,"label":%q}`,
				pos, pos+len([]rune(word)), word, label))
		}
		return "[" + strings.Join(items, ",") + "]", nil
	}
}

func newPipeline(t *testing.T, model port.LLM, opts AnnotateOptions) *AnnotateUseCase {
	t.Helper()
	return newPipelineWithChunks(t, model, 30, 12, opts)
}

func newPipelineWithChunks(t *testing.T, model port.LLM, size, overlap int, opts AnnotateOptions) *AnnotateUseCase {
	t.Helper()
	c, err := chunker.NewSentenceChunker(size, overlap, 0)
	require.NoError(t, err)
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return NewAnnotateUseCase(
		model,
		c,
		chunkPrompts{},
		reconcile.NewDeduplicator(reconcile.DuplicateOverlapRatio),
		cost.NewCalculator(config.DefaultConfig().Pricing),
		zaptest.NewLogger(t),
		opts,
	)
}

func TestAnnotateDeduplicatesAcrossChunks(t *testing.T) {
	mock := &llm.MockClient{Responder: findAll("Paris", "LOC")}
	pipeline := newPipeline(t, mock, AnnotateOptions{})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText, Tags: locTags})
	require.NoError(t, err)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, 17, result.Entities[0].StartChar)
	assert.Equal(t, 22, result.Entities[0].EndChar)
	assert.Equal(t, 38, result.Entities[1].StartChar)
	assert.Equal(t, 43, result.Entities[1].EndChar)
	for _, e := range result.Entities {
		assert.Equal(t, "Paris", e.Text)
		assert.NotNil(t, e.ChunkID)
	}

	stats := result.Statistics
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 3, stats.SuccessfulChunks)
	assert.Zero(t, stats.FailedChunks)
	assert.Equal(t, 3, stats.RawEntities)
	assert.Equal(t, 1, stats.DuplicatesRemoved)
	assert.Equal(t, 2, stats.TotalEntities)
	assert.Equal(t, "mock", stats.Model)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, stats.InputTokens+stats.OutputTokens, stats.TotalTokens)
	assert.Positive(t, stats.Cost)

	require.Len(t, result.ChunkResults, 3)
	for i, cr := range result.ChunkResults {
		assert.Equal(t, i, cr.ChunkID)
		assert.Equal(t, domain.ChunkSucceeded, cr.Status)
		assert.Equal(t, 1, cr.Attempts)
	}
	assert.Equal(t, 12, result.ChunkResults[1].BaseOffset)
	assert.Equal(t, 3, mock.Calls())
}

func TestAnnotateOneEntityPerOccurrence(t *testing.T) {
	mock := &llm.MockClient{Responder: findAll("Paris", "LOC")}
	pipeline := newPipelineWithChunks(t, mock, 30, 5, AnnotateOptions{})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText, Tags: locTags})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Statistics.TotalChunks, 2)
	starts := make(map[int]int)
	for _, e := range result.Entities {
		starts[e.StartChar]++
	}
	assert.Equal(t, map[int]int{17: 1, 38: 1}, starts)
}

func TestAnnotateResultIndependentOfConcurrency(t *testing.T) {
	var want []domain.Entity
	for _, n := range []int{1, 2, 8} {
		mock := &llm.MockClient{Responder: findAll("Paris", "LOC")}
		result, err := newPipeline(t, mock, AnnotateOptions{Concurrency: n}).
			Annotate(context.Background(), AnnotateRequest{Text: parisText})
		require.NoError(t, err)
		if want == nil {
			want = result.Entities
			continue
		}
		assert.Equal(t, want, result.Entities, "concurrency %d", n)
	}
}

func TestAnnotateAbortsOnFatalError(t *testing.T) {
	mock := &llm.MockClient{
		Errors: []error{errors.New("Error code: 401 - invalid_api_key")},
	}
	pipeline := newPipeline(t, mock, AnnotateOptions{Concurrency: 1, MaxRetries: 3})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.Contains(t, err.Error(), "invalid_api_key")
	assert.Equal(t, 1, mock.Calls())
}

func TestAnnotateContinuesPastFailedChunk(t *testing.T) {
	found := findAll("Paris", "LOC")
	mock := &llm.MockClient{Responder: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "John") {
			return "", errors.New("connection reset by peer")
		}
		return found(prompt)
	}}
	pipeline := newPipeline(t, mock, AnnotateOptions{Concurrency: 2})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Statistics.SuccessfulChunks)
	assert.Equal(t, 1, result.Statistics.FailedChunks)
	assert.Len(t, result.Entities, 2)

	failed := result.ChunkResults[0]
	assert.Equal(t, domain.ChunkFailed, failed.Status)
	assert.Contains(t, failed.Error, "connection reset")
}

func TestAnnotateAllChunksFailed(t *testing.T) {
	mock := &llm.MockClient{Responder: func(string) (string, error) {
		return "", errors.New("service unavailable")
	}}
	pipeline := newPipeline(t, mock, AnnotateOptions{Concurrency: 3, MaxRetries: 1})

	_, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Equal(t, 6, mock.Calls())
}

func TestAnnotateMalformedResponseFailsChunk(t *testing.T) {
	mock := llm.NewMockClient("I could not find any entities, sorry!")
	pipeline := newPipeline(t, mock, AnnotateOptions{})

	_, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: "A short text."})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
}

func TestAnnotateProseReplyMentioningCredentialsIsChunkLocal(t *testing.T) {
	found := findAll("Paris", "LOC")
	mock := &llm.MockClient{Responder: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "John") {
			return "Sorry, I cannot find entities. The text discusses an API key rotation policy and billing.", nil
		}
		return found(prompt)
	}}
	pipeline := newPipeline(t, mock, AnnotateOptions{})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: parisText})
	require.NoError(t, err)
	assert.Equal(t, 3, mock.Calls())
	assert.Len(t, result.Entities, 2)

	failed := result.ChunkResults[0]
	assert.Equal(t, domain.ChunkFailed, failed.Status)
	assert.Contains(t, failed.Error, llm.ErrMalformedResponse.Error())
	assert.NotContains(t, failed.Error, "API key")
}

func TestAnnotateRetriesTransientFailure(t *testing.T) {
	mock := &llm.MockClient{
		Errors:    []error{errors.New("502 bad gateway")},
		Responses: []string{"", `[{"start_char":0,"end_char":5,"text":"Alice","label":"PER"}]`},
	}
	pipeline := newPipeline(t, mock, AnnotateOptions{MaxRetries: 2})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: "Alice left."})
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, 2, result.ChunkResults[0].Attempts)
	assert.Equal(t, 2, mock.Calls())
}

func TestAnnotateDropsInvalidEntities(t *testing.T) {
	mock := llm.NewMockClient(`[
		{"start_char":0,"end_char":5,"text":"Alice","label":"PER"},
		{"start_char":0,"end_char":5,"text":"Bob","label":"ORG"},
		{"start_char":9,"end_char":90,"text":"x","label":"PER"}
	]`)
	pipeline := newPipeline(t, mock, AnnotateOptions{})

	result, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: "Alice met Bob."})
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Alice", result.Entities[0].Text)
	assert.Equal(t, 2, result.Statistics.InvalidDropped)
	assert.Equal(t, 3, result.Statistics.RawEntities)
}

func TestAnnotateEmptyResponseIsZeroEntities(t *testing.T) {
	mock := llm.NewMockClient("   ")
	result, err := newPipeline(t, mock, AnnotateOptions{}).
		Annotate(context.Background(), AnnotateRequest{Text: "Nothing to see."})
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Equal(t, 1, result.Statistics.SuccessfulChunks)
}

func TestAnnotateRejectsEmptyText(t *testing.T) {
	mock := llm.NewMockClient()
	pipeline := newPipeline(t, mock, AnnotateOptions{})

	for _, text := range []string{"", " \n\t "} {
		_, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: text})
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Zero(t, mock.Calls())
}

// blockingLLM answers only when its context ends.
type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ string) (port.Completion, error) {
	<-ctx.Done()
	return port.Completion{}, ctx.Err()
}

func (blockingLLM) ModelName() string { return "blocking" }

func TestAnnotateCallTimeout(t *testing.T) {
	pipeline := newPipeline(t, blockingLLM{}, AnnotateOptions{Timeout: 10 * time.Millisecond})

	_, err := pipeline.Annotate(context.Background(), AnnotateRequest{Text: "Short text."})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllChunksFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.KindTimeout, le.Kind)
}

func TestAnnotateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, llm.NewMockClient(), AnnotateOptions{}).
		Annotate(ctx, AnnotateRequest{Text: parisText})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnotateReportsProgress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][2]int
	)
	opts := AnnotateOptions{
		Concurrency: 3,
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, [2]int{done, total})
		},
	}
	_, err := newPipeline(t, llm.NewMockClient("[]"), opts).
		Annotate(context.Background(), AnnotateRequest{Text: parisText})
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)
}
