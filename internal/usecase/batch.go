package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"annotator/internal/adapter/fs"
	"annotator/internal/domain"
	"annotator/internal/port"
)

// RecordMeta identifies where an annotated text came from.
type RecordMeta struct {
	ProjectID string
	Path      string
}

// StoreUseCase annotates texts and persists the results as records.
type StoreUseCase struct {
	annotate *AnnotateUseCase
	store    port.AnnotationStore
	logger   *zap.Logger
}

func NewStoreUseCase(annotate *AnnotateUseCase, store port.AnnotationStore, logger *zap.Logger) *StoreUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreUseCase{annotate: annotate, store: store, logger: logger}
}

// AnnotateAndStore runs the pipeline and saves the outcome. A nil store
// returns an unsaved record.
func (u *StoreUseCase) AnnotateAndStore(ctx context.Context, req AnnotateRequest, meta RecordMeta) (domain.AnnotationRecord, error) {
	result, err := u.annotate.Annotate(ctx, req)
	if err != nil {
		return domain.AnnotationRecord{}, err
	}

	record := domain.AnnotationRecord{
		ProjectID:  meta.ProjectID,
		Path:       meta.Path,
		Text:       req.Text,
		Model:      result.Statistics.Model,
		Tags:       req.Tags,
		Entities:   result.Entities,
		Statistics: result.Statistics,
		Chunks:     result.ChunkResults,
		CreatedAt:  time.Now().UTC(),
	}
	if u.store == nil {
		return record, nil
	}

	saved, err := u.store.Put(record)
	if err != nil {
		return domain.AnnotationRecord{}, fmt.Errorf("failed to save annotation: %w", err)
	}
	u.logger.Info("annotation saved",
		zap.String("id", saved.ID),
		zap.String("path", saved.Path),
		zap.Int("entities", len(saved.Entities)))
	return saved, nil
}

// FileResult is the outcome of annotating one file in a batch.
type FileResult struct {
	Path   string
	Record domain.AnnotationRecord
	Err    error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Files     []FileResult
	Succeeded int
	Failed    int
	Aborted   bool
}

// AnnotateFiles annotates each file in order. A file that fails is recorded
// and the batch moves on, unless the failure aborted the run or the
// context ended, in which case the remaining files are not attempted.
func (u *StoreUseCase) AnnotateFiles(
	ctx context.Context,
	files []fs.FileInfo,
	tags []domain.TagDefinition,
	fewShot []domain.FewShotExample,
	projectID string,
	onFile func(FileResult),
) (*BatchResult, error) {
	result := &BatchResult{}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fr := FileResult{Path: file.RelPath}
		text, err := fs.ReadFile(file.Path)
		if err == nil {
			fr.Record, err = u.AnnotateAndStore(ctx, AnnotateRequest{
				Text:    text,
				Tags:    tags,
				FewShot: fewShot,
			}, RecordMeta{ProjectID: projectID, Path: file.RelPath})
		}
		fr.Err = err

		if err != nil {
			result.Failed++
			u.logger.Warn("file failed", zap.String("path", file.RelPath), zap.Error(err))
		} else {
			result.Succeeded++
		}
		result.Files = append(result.Files, fr)
		if onFile != nil {
			onFile(fr)
		}

		if errors.Is(err, ErrRunAborted) {
			result.Aborted = true
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
	}

	return result, nil
}
