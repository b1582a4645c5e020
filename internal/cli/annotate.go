package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"annotator/internal/adapter/export"
	"annotator/internal/adapter/fs"
	"annotator/internal/domain"
	"annotator/internal/port"
	"annotator/internal/usecase"
)

var (
	annotateTags        string
	annotateDir         string
	annotateIncludes    []string
	annotateExcludes    []string
	annotateModel       string
	annotateChunkSize   int
	annotateOverlap     int
	annotateConcurrency int
	annotateProject     string
	annotateNoStore     bool
	annotateOut         string
	annotateFormat      string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate [file]",
	Short: "Annotate a document or a directory of documents",
	Long: `Annotate text with the labels defined in a tag set. The document is split
into overlapping chunks, each chunk is sent to the LLM, and the entities
are mapped back to document offsets, deduplicated and validated.

Examples:
  annotator annotate paper.txt --tags tags.yaml
  annotator annotate paper.txt --tags tags.csv --out paper.conll --format conll
  annotator annotate --dir corpus --include "**/*.txt" --tags tags.yaml --project atlas`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnnotate,
}

func init() {
	rootCmd.AddCommand(annotateCmd)
	annotateCmd.Flags().StringVarP(&annotateTags, "tags", "t", "", "tag set file, .yaml or .csv (required)")
	annotateCmd.Flags().StringVar(&annotateDir, "dir", "", "annotate every matching file under this directory")
	annotateCmd.Flags().StringSliceVar(&annotateIncludes, "include", nil, "glob patterns to include with --dir (default **/*.txt, **/*.md)")
	annotateCmd.Flags().StringSliceVar(&annotateExcludes, "exclude", nil, "glob patterns to exclude with --dir")
	annotateCmd.Flags().StringVarP(&annotateModel, "model", "m", "", "model name (default from config)")
	annotateCmd.Flags().IntVar(&annotateChunkSize, "chunk-size", 0, "chunk size in characters (default from config)")
	annotateCmd.Flags().IntVar(&annotateOverlap, "overlap", -1, "chunk overlap in characters (default from config)")
	annotateCmd.Flags().IntVar(&annotateConcurrency, "concurrency", 0, "concurrent LLM calls (default from config)")
	annotateCmd.Flags().StringVar(&annotateProject, "project", "", "project the records belong to")
	annotateCmd.Flags().BoolVar(&annotateNoStore, "no-store", false, "do not save results to the annotation store")
	annotateCmd.Flags().StringVarP(&annotateOut, "out", "o", "", "also write the result to this file")
	annotateCmd.Flags().StringVarP(&annotateFormat, "format", "f", "", "format for --out: json, csv, conll (default from config)")
	annotateCmd.MarkFlagRequired("tags")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (annotateDir == "") {
		return fmt.Errorf("specify either a file or --dir")
	}

	cfg := GetConfig()
	if annotateChunkSize > 0 {
		cfg.Chunking.Size = annotateChunkSize
	}
	if annotateOverlap >= 0 {
		cfg.Chunking.Overlap = annotateOverlap
	}
	if annotateConcurrency > 0 {
		cfg.LLM.Concurrency = annotateConcurrency
	}
	if annotateModel != "" {
		cfg.LLM.Model = annotateModel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	tags, err := loadTags(annotateTags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	model, release, err := newLLM(cfg.LLM.Model)
	if err != nil {
		return err
	}
	defer release()

	var st port.AnnotationStore
	if !annotateNoStore {
		bolt, err := openStore()
		if err != nil {
			return err
		}
		defer bolt.Close()
		st = bolt
	}

	if annotateDir != "" {
		return annotateDirectory(ctx, model, st, tags)
	}
	return annotateFile(ctx, model, st, tags, args[0])
}

func annotateFile(ctx context.Context, model port.LLM, st port.AnnotationStore, tags fs.TagSet, path string) error {
	text, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	bar := newChunkBar()
	pipeline, err := newPipeline(model, bar.update)
	if err != nil {
		return err
	}
	uc := usecase.NewStoreUseCase(pipeline, st, logger)

	fmt.Printf("Annotating %s with %s (%d tags)...\n", path, model.ModelName(), len(tags.Tags))
	record, err := uc.AnnotateAndStore(ctx, usecase.AnnotateRequest{
		Text:    text,
		Tags:    tags.Tags,
		FewShot: tags.FewShot,
	}, usecase.RecordMeta{ProjectID: annotateProject, Path: filepath.Base(path)})
	bar.finish()
	if err != nil {
		return fmt.Errorf("annotation failed: %w", err)
	}

	printRunSummary(record)
	if annotateOut != "" {
		if err := writeRecords(annotateOut, annotateFormat, record); err != nil {
			return err
		}
		fmt.Printf("\nWrote %s\n", annotateOut)
	}
	return nil
}

func annotateDirectory(ctx context.Context, model port.LLM, st port.AnnotationStore, tags fs.TagSet) error {
	root, err := filepath.Abs(annotateDir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	files, err := fs.NewWalker(annotateIncludes, annotateExcludes).Walk(root)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if len(files) == 0 {
		fmt.Printf("No matching files under %s\n", root)
		return nil
	}

	pipeline, err := newPipeline(model, nil)
	if err != nil {
		return err
	}
	uc := usecase.NewStoreUseCase(pipeline, st, logger)

	fmt.Printf("Annotating %d files under %s...\n", len(files), root)
	bar := newBar(len(files), "[cyan]Files[reset]")

	var records []domain.AnnotationRecord
	result, err := uc.AnnotateFiles(ctx, files, tags.Tags, tags.FewShot, annotateProject, func(fr usecase.FileResult) {
		bar.Add(1)
		if fr.Err == nil {
			records = append(records, fr.Record)
		}
	})

	fmt.Printf("\nBatch complete:\n")
	fmt.Printf("  Files annotated: %d\n", result.Succeeded)
	fmt.Printf("  Files failed:    %d\n", result.Failed)
	for _, fr := range result.Files {
		if fr.Err != nil {
			fmt.Printf("  - %s: %v\n", fr.Path, fr.Err)
		}
	}
	if err != nil {
		return fmt.Errorf("batch stopped: %w", err)
	}

	if annotateOut != "" && len(records) > 0 {
		if err := writeRecords(annotateOut, annotateFormat, records...); err != nil {
			return err
		}
		fmt.Printf("\nWrote %s\n", annotateOut)
	}
	return nil
}

func printRunSummary(record domain.AnnotationRecord) {
	stats := record.Statistics
	fmt.Printf("\nAnnotation complete:\n")
	fmt.Printf("  Entities:        %d\n", stats.TotalEntities)
	fmt.Printf("  Duplicates:      %d removed\n", stats.DuplicatesRemoved)
	if stats.InvalidDropped > 0 {
		fmt.Printf("  Invalid offsets: %d dropped\n", stats.InvalidDropped)
	}
	fmt.Printf("  Chunks:          %d/%d succeeded\n", stats.SuccessfulChunks, stats.TotalChunks)
	fmt.Printf("  Tokens:          %d (in %d, out %d)\n", stats.TotalTokens, stats.InputTokens, stats.OutputTokens)
	fmt.Printf("  Cost:            $%.6f\n", stats.Cost)
	fmt.Printf("  Duration:        %s\n", formatDuration(stats.Duration))

	for _, c := range record.Chunks {
		if c.Status == domain.ChunkFailed {
			fmt.Printf("  - chunk %d at %d: %s\n", c.ChunkID, c.BaseOffset, c.Error)
		}
	}
	if record.ID != "" {
		fmt.Printf("\nStored as %s\n", record.ID)
	}
}

// writeRecords exports records to path, or stdout when path is "-".
func writeRecords(path, format string, records ...domain.AnnotationRecord) error {
	if format == "" {
		format = formatFromExt(path)
	}
	exp, err := export.New(format, export.Options{IncludeMetadata: GetConfig().Export.IncludeMetadata})
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	if err := exp.Export(w, records...); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

func formatFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".csv":
		return export.FormatCSV
	case ".conll":
		return export.FormatCoNLL
	case ".json":
		return export.FormatJSON
	}
	return GetConfig().Export.Format
}

// chunkBar is a progress bar sized on the first report, once the chunk
// count is known.
type chunkBar struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	startTime time.Time
}

func newChunkBar() *chunkBar {
	return &chunkBar{}
}

func (b *chunkBar) update(done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bar == nil {
		b.startTime = time.Now()
		b.bar = newBar(total, "[cyan]Chunks[reset]")
	}
	b.bar.Set(done)

	elapsed := time.Since(b.startTime)
	if rate := float64(done) / elapsed.Seconds(); rate > 0 && done < total {
		eta := time.Duration(float64(total-done)/rate) * time.Second
		b.bar.Describe(fmt.Sprintf("[cyan]Chunks[reset] ETA: %s", formatDuration(eta)))
	}
}

func (b *chunkBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		b.bar.Finish()
	}
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
