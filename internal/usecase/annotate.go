package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"annotator/internal/adapter/cost"
	"annotator/internal/adapter/llm"
	"annotator/internal/adapter/metrics"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/domain"
	"annotator/internal/port"
)

var (
	ErrEmptyText = errors.New("text is empty")
	// ErrRunAborted wraps a credential, billing or quota failure. Every
	// remaining call would fail the same way, so the run stops.
	ErrRunAborted = errors.New("annotation run aborted")
	// ErrAllChunksFailed wraps the error of the last chunk when no chunk
	// succeeded.
	ErrAllChunksFailed = errors.New("all chunks failed")
)

// Stage names a pipeline state. Runs move forward through them in order;
// aborted is reachable only from annotating.
type Stage string

const (
	StagePending    Stage = "PENDING"
	StageChunking   Stage = "CHUNKING"
	StageAnnotating Stage = "PER_CHUNK_ANNOTATE"
	StageTranslate  Stage = "TRANSLATE"
	StageAggregate  Stage = "AGGREGATE"
	StageDedup      Stage = "DEDUP"
	StageValidate   Stage = "VALIDATE"
	StageDone       Stage = "DONE"
	StageAborted    Stage = "ABORTED"
)

const defaultRetryDelay = 200 * time.Millisecond

// PromptBuilder renders the prompt for one chunk.
type PromptBuilder interface {
	Annotation(tags []domain.TagDefinition, text string, fewShot []domain.FewShotExample) (string, error)
}

// AnnotateOptions tunes how chunks are dispatched.
type AnnotateOptions struct {
	// Concurrency bounds in-flight LLM calls. 1 annotates chunks in order.
	Concurrency int
	// Timeout bounds each call. A timed-out call is a chunk failure.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a non-fatal failure.
	MaxRetries int
	RetryDelay time.Duration
	// Progress is called after each chunk settles. Calls are serialized.
	Progress func(done, total int)
}

type AnnotateRequest struct {
	Text    string
	Tags    []domain.TagDefinition
	FewShot []domain.FewShotExample
}

// AnnotateUseCase runs the chunked annotation pipeline.
type AnnotateUseCase struct {
	llm     port.LLM
	chunker port.Chunker
	prompts PromptBuilder
	dedupe  *reconcile.Deduplicator
	pricing *cost.Calculator
	logger  *zap.Logger
	opts    AnnotateOptions
}

// NewAnnotateUseCase creates a pipeline. pricing and logger may be nil.
func NewAnnotateUseCase(
	model port.LLM,
	chunker port.Chunker,
	prompts PromptBuilder,
	dedupe *reconcile.Deduplicator,
	pricing *cost.Calculator,
	logger *zap.Logger,
	opts AnnotateOptions,
) *AnnotateUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupe == nil {
		dedupe = reconcile.NewDeduplicator(reconcile.DuplicateOverlapRatio)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &AnnotateUseCase{
		llm:     model,
		chunker: chunker,
		prompts: prompts,
		dedupe:  dedupe,
		pricing: pricing,
		logger:  logger,
		opts:    opts,
	}
}

// chunkOutcome is the settled state of one chunk slot.
type chunkOutcome struct {
	chunk    domain.Chunk
	result   domain.ChunkResult
	entities []domain.Entity
	err      error
	fatal    bool
}

// Annotate runs the pipeline over one document. It fails only when the run
// is aborted, the context is cancelled, or no chunk succeeded; otherwise
// failed chunks are reported in the result's chunk log.
func (u *AnnotateUseCase) Annotate(ctx context.Context, req AnnotateRequest) (*domain.AnnotationResult, error) {
	runID := uuid.NewString()
	model := u.llm.ModelName()
	log := u.logger.With(zap.String("run_id", runID), zap.String("model", model))
	began := time.Now()

	stage := func(s Stage, fields ...zap.Field) {
		log.Debug("pipeline stage", append([]zap.Field{zap.String("stage", string(s))}, fields...)...)
	}

	stage(StagePending)
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	doc := domain.NewDocument(req.Text)

	stage(StageChunking)
	chunks := u.chunker.Chunk(doc)
	stage(StageAnnotating, zap.Int("chunks", len(chunks)), zap.Int("concurrency", u.opts.Concurrency))

	slots := u.dispatch(ctx, log, req, chunks)

	for _, out := range slots {
		if out.fatal {
			stage(StageAborted, zap.Int("chunk_id", out.chunk.ID), zap.Error(out.err))
			metrics.RecordRun(string(StageAborted))
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrRunAborted, out.chunk.ID, out.err)
		}
	}
	if err := ctx.Err(); err != nil {
		stage(StageAborted, zap.Error(err))
		metrics.RecordRun(string(StageAborted))
		return nil, err
	}

	stats := domain.PipelineStatistics{
		RunID:       runID,
		Model:       model,
		TotalChunks: len(chunks),
	}
	chunkResults := make([]domain.ChunkResult, len(slots))
	var (
		lastFailure *chunkOutcome
		raw         []domain.Entity
	)

	stage(StageTranslate)
	translated := make([][]domain.Entity, len(slots))
	for i := range slots {
		out := &slots[i]
		chunkResults[i] = out.result
		stats.InputTokens += out.result.InputTokens
		stats.OutputTokens += out.result.OutputTokens
		stats.Cost += out.result.Cost

		if out.result.Status != domain.ChunkSucceeded {
			stats.FailedChunks++
			lastFailure = out
			continue
		}
		stats.SuccessfulChunks++
		translated[i] = reconcile.Translate(out.chunk, out.entities)
	}

	if stats.SuccessfulChunks == 0 {
		stage(StageAborted, zap.Int("failed_chunks", stats.FailedChunks))
		metrics.RecordRun("failed")
		return nil, fmt.Errorf("%w (%d chunks, last chunk %d): %w",
			ErrAllChunksFailed, len(chunks), lastFailure.chunk.ID, lastFailure.err)
	}

	stage(StageAggregate)
	for _, entities := range translated {
		raw = append(raw, entities...)
	}
	stats.RawEntities = len(raw)

	stage(StageDedup, zap.Int("raw_entities", len(raw)))
	deduped := u.dedupe.Dedupe(raw)
	stats.DuplicatesRemoved = len(raw) - len(deduped)

	stage(StageValidate, zap.Int("entities", len(deduped)))
	kept, dropped := reconcile.Valid(doc, deduped)
	stats.InvalidDropped = dropped
	if dropped > 0 {
		log.Info("dropped entities whose offsets do not match the text", zap.Int("dropped", dropped))
	}

	stats.TotalEntities = len(kept)
	stats.TotalTokens = stats.InputTokens + stats.OutputTokens
	stats.Duration = time.Since(began)

	metrics.RecordEntities("raw", stats.RawEntities)
	metrics.RecordEntities("duplicate", stats.DuplicatesRemoved)
	metrics.RecordEntities("invalid", stats.InvalidDropped)
	metrics.RecordEntities("kept", stats.TotalEntities)
	metrics.RecordRun(string(StageDone))

	stage(StageDone,
		zap.Int("entities", stats.TotalEntities),
		zap.Int("failed_chunks", stats.FailedChunks),
		zap.Int("tokens", stats.TotalTokens),
		zap.Duration("duration", stats.Duration))

	return &domain.AnnotationResult{
		Entities:     kept,
		Statistics:   stats,
		ChunkResults: chunkResults,
	}, nil
}

// dispatch annotates every chunk with at most Concurrency calls in flight.
// Each chunk writes only its own slot. A fatal error cancels queued and
// in-flight chunks, which settle as skipped.
func (u *AnnotateUseCase) dispatch(ctx context.Context, log *zap.Logger, req AnnotateRequest, chunks []domain.Chunk) []chunkOutcome {
	slots := make([]chunkOutcome, len(chunks))
	for i, chunk := range chunks {
		slots[i] = skipped(chunk)
	}

	var (
		progressMu sync.Mutex
		settled    int
	)
	report := func() {
		if u.opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		settled++
		u.opts.Progress(settled, len(chunks))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := u.annotateChunk(gctx, log, req, chunk)
			slots[i] = out
			metrics.RecordChunk(out.result.Status)
			report()
			if out.fatal {
				return out.err
			}
			return nil
		})
	}
	_ = g.Wait()

	return slots
}

func skipped(chunk domain.Chunk) chunkOutcome {
	return chunkOutcome{
		chunk: chunk,
		result: domain.ChunkResult{
			ChunkID:    chunk.ID,
			BaseOffset: chunk.BaseOffset,
			Length:     chunk.Length,
			Status:     domain.ChunkSkipped,
		},
		err: context.Canceled,
	}
}

func (u *AnnotateUseCase) annotateChunk(ctx context.Context, log *zap.Logger, req AnnotateRequest, chunk domain.Chunk) chunkOutcome {
	out := skipped(chunk)
	out.err = nil
	began := time.Now()
	log = log.With(zap.Int("chunk_id", chunk.ID), zap.Int("base_offset", chunk.BaseOffset))

	prompt, err := u.prompts.Annotation(req.Tags, chunk.Text, req.FewShot)
	if err != nil {
		return u.failChunk(log, out, err, began)
	}

	attempts := 1 + u.opts.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		out.result.Attempts++

		completion, entities, err := u.call(ctx, prompt)
		out.result.InputTokens += completion.InputTokens
		out.result.OutputTokens += completion.OutputTokens
		out.result.Cached = completion.Cached

		if err == nil {
			out.entities = entities
			out.result.Status = domain.ChunkSucceeded
			out.result.EntityCount = len(entities)
			break
		}

		if errors.Is(err, llm.ErrMalformedResponse) {
			log.Warn("unparseable model reply", zap.String("preview", llm.Preview(completion.Text)))
		}
		if llm.IsFatal(err) {
			out.fatal = true
			return u.failChunk(log, out, err, began)
		}
		if ctx.Err() != nil {
			out.err = ctx.Err()
			out.result.Status = domain.ChunkSkipped
			out.result.Duration = time.Since(began)
			return out
		}
		if attempt+1 < attempts && llm.IsRetryable(err) {
			log.Debug("retrying chunk", zap.Int("attempt", attempt+1), zap.Error(err))
			if sleepWithCtx(ctx, u.opts.RetryDelay) != nil {
				out.err = ctx.Err()
				out.result.Status = domain.ChunkSkipped
				out.result.Duration = time.Since(began)
				return out
			}
			continue
		}
		return u.failChunk(log, out, err, began)
	}

	out.result.Cost = u.price(out.result.InputTokens, out.result.OutputTokens)
	out.result.Duration = time.Since(began)
	metrics.RecordTokens(u.llm.ModelName(), out.result.InputTokens, out.result.OutputTokens)
	return out
}

// call performs one bounded completion and parses it.
func (u *AnnotateUseCase) call(ctx context.Context, prompt string) (port.Completion, []domain.Entity, error) {
	callCtx := ctx
	if u.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, u.opts.Timeout)
		defer cancel()
	}

	began := time.Now()
	completion, err := u.llm.Complete(callCtx, prompt)
	outcome := "success"
	defer func() {
		metrics.RecordLLMCall(u.llm.ModelName(), outcome, time.Since(began).Seconds())
	}()

	if err != nil {
		outcome = "error"
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			err = &llm.Error{Kind: llm.KindTimeout, Err: fmt.Errorf("no response within %s: %w", u.opts.Timeout, err)}
		}
		return completion, nil, err
	}

	entities, err := llm.ParseEntities(completion.Text)
	if err != nil {
		outcome = "malformed"
		return completion, nil, err
	}
	return completion, entities, nil
}

func (u *AnnotateUseCase) failChunk(log *zap.Logger, out chunkOutcome, err error, began time.Time) chunkOutcome {
	out.err = err
	out.result.Status = domain.ChunkFailed
	out.result.Error = err.Error()
	out.result.Cost = u.price(out.result.InputTokens, out.result.OutputTokens)
	out.result.Duration = time.Since(began)
	if out.fatal {
		log.Error("chunk failed with a run-level error", zap.Error(err))
	} else {
		log.Warn("chunk failed", zap.Int("attempts", out.result.Attempts), zap.Error(err))
	}
	metrics.RecordTokens(u.llm.ModelName(), out.result.InputTokens, out.result.OutputTokens)
	return out
}

func (u *AnnotateUseCase) price(input, output int) float64 {
	if u.pricing == nil {
		return 0
	}
	return u.pricing.Calculate(u.llm.ModelName(), input, output).TotalCost
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
