package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"annotator/config"
	"annotator/internal/adapter/chunker"
	"annotator/internal/adapter/fs"
	"annotator/internal/adapter/llm"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/domain"
	"annotator/internal/usecase"
)

// Runs the annotation pipeline against a scripted model that tags every
// occurrence of the given words, so chunking, reconciliation and dispatch
// can be measured without network calls.
func main() {
	rootDir := flag.String("dir", ".", "directory holding annotator.yaml")
	textPath := flag.String("text", "", "text file to annotate")
	words := flag.String("words", "", "comma separated words the fake model tags")
	latency := flag.Duration("latency", 50*time.Millisecond, "simulated LLM latency per call")
	levels := flag.String("concurrency", "1,2,4,8", "concurrency levels to compare")
	flag.Parse()

	if *textPath == "" || *words == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -text paper.txt -words \"Paris,Alice\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Chunk layout for the configured size and overlap")
		fmt.Println("  2. Duplicates removed from chunk overlaps")
		fmt.Println("  3. Wall time per concurrency level")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	text, err := fs.ReadFile(*textPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading text: %v\n", err)
		os.Exit(1)
	}

	chk, err := chunker.NewSentenceChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.Lookback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid chunking settings: %v\n", err)
		os.Exit(1)
	}

	doc := domain.NewDocument(text)
	chunks := chk.Chunk(doc)

	fmt.Println("PIPELINE BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Text: %s (%d characters)\n", *textPath, doc.Len())
	fmt.Printf("Chunking: size %d, overlap %d -> %d chunks\n", cfg.Chunking.Size, cfg.Chunking.Overlap, len(chunks))
	fmt.Printf("Simulated latency: %s per call\n", *latency)
	fmt.Println(strings.Repeat("-", 70))

	tagged := splitList(*words)
	var baseline time.Duration
	for _, level := range parseLevels(*levels) {
		model := &llm.MockClient{Responder: taggingResponder(tagged, *latency)}
		pipeline := usecase.NewAnnotateUseCase(
			model,
			chk,
			passthroughPrompts{},
			reconcile.NewDeduplicator(cfg.Dedupe.OverlapRatio),
			nil,
			nil,
			usecase.AnnotateOptions{Concurrency: level},
		)

		start := time.Now()
		result, err := pipeline.Annotate(context.Background(), usecase.AnnotateRequest{Text: text})
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Run at concurrency %d failed: %v\n", level, err)
			os.Exit(1)
		}
		if baseline == 0 {
			baseline = elapsed
		}

		s := result.Statistics
		fmt.Printf("concurrency %2d: %8s  speedup %.2fx  raw %d  duplicates %d  invalid %d  kept %d\n",
			level, elapsed.Round(time.Millisecond), float64(baseline)/float64(elapsed),
			s.RawEntities, s.DuplicatesRemoved, s.InvalidDropped, s.TotalEntities)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("Expected occurrences:")
	for _, w := range tagged {
		fmt.Printf("  %-20s %d\n", w, len(doc.IndexAll(w)))
	}
}

type passthroughPrompts struct{}

func (passthroughPrompts) Annotation(_ []domain.TagDefinition, text string, _ []domain.FewShotExample) (string, error) {
	return text, nil
}

// taggingResponder tags every occurrence of each word in the prompt, which
// is the chunk text itself.
func taggingResponder(words []string, latency time.Duration) func(string) (string, error) {
	return func(prompt string) (string, error) {
		time.Sleep(latency)
		doc := domain.NewDocument(prompt)
		var items []string
		for _, w := range words {
			n := len([]rune(w))
			for _, pos := range doc.IndexAll(w) {
				items = append(items, fmt.Sprintf(`{"start_char":%d,"end_char":%d,"text":%q,"label":"TERM"}`, pos, pos+n, w))
			}
		}
		return "[" + strings.Join(items, ",") + "]", nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevels(s string) []int {
	var out []int
	for _, part := range splitList(s) {
		if n, err := strconv.Atoi(part); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}
