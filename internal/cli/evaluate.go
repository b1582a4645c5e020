package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"annotator/internal/adapter/prompt"
	"annotator/internal/domain"
	"annotator/internal/usecase"
)

var (
	evaluateRecord string
	evaluateTags   string
	evaluateModel  string
	evaluateApply  string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Ask the LLM to review the labels of a stored annotation",
	Long: `Ask the LLM whether each entity's label fits its definition. Verdicts
are stored with the record. Recommendations are only applied to the indices
given with --apply, or to every non-keep verdict with --apply all.

Examples:
  annotator evaluate --record 3f2a...
  annotator evaluate --record 3f2a... --tags tags.yaml --apply 2,5,7`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evaluateRecord, "record", "r", "", "stored annotation ID (required)")
	evaluateCmd.Flags().StringVarP(&evaluateTags, "tags", "t", "", "tag set file (default is the tags stored with the record)")
	evaluateCmd.Flags().StringVarP(&evaluateModel, "model", "m", "", "evaluation model (default from config)")
	evaluateCmd.Flags().StringVar(&evaluateApply, "apply", "", "entity indices to apply, comma separated, or 'all'")
	evaluateCmd.MarkFlagRequired("record")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	var tags []domain.TagDefinition
	if evaluateTags != "" {
		set, err := loadTags(evaluateTags)
		if err != nil {
			return err
		}
		tags = set.Tags
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	model, release, err := newLLM(evaluateModel)
	if err != nil {
		return err
	}
	defer release()

	prompts, err := prompt.NewBuilder()
	if err != nil {
		return err
	}

	fmt.Printf("Evaluating %s with %s...\n", evaluateRecord, model.ModelName())
	record, err := usecase.NewEvaluateUseCase(model, prompts, st, logger).EvaluateRecord(ctx, evaluateRecord, tags)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	counts := make(map[domain.Recommendation]int)
	for _, ev := range record.Evaluations {
		counts[ev.Recommendation]++
		if ev.Recommendation == domain.RecommendKeep {
			continue
		}
		line := fmt.Sprintf("  %3d  %q (%s): %s", ev.EntityIndex, ev.CurrentText, ev.CurrentLabel, ev.Recommendation)
		if ev.SuggestedLabel != nil {
			line += " -> " + *ev.SuggestedLabel
		}
		if ev.Reasoning != "" {
			line += "\n       " + ev.Reasoning
		}
		fmt.Println(line)
	}
	fmt.Printf("\nKeep %d, change label %d, delete %d, manual review %d\n",
		counts[domain.RecommendKeep], counts[domain.RecommendChangeLabel],
		counts[domain.RecommendDelete], counts[domain.RecommendManualReview])

	if evaluateApply == "" {
		return nil
	}

	selected, err := parseSelection(evaluateApply, record.Evaluations)
	if err != nil {
		return err
	}
	entities, changes := usecase.ApplyRecommendations(record.Entities, record.Evaluations, selected)
	if len(changes) == 0 {
		fmt.Println("No changes applied.")
		return nil
	}
	// Indices no longer line up with the verdicts once entities are removed.
	if _, err := st.RecordEvaluation(record.ID, nil); err != nil {
		return fmt.Errorf("failed to clear evaluation: %w", err)
	}
	if _, err := st.UpdateEntities(record.ID, entities, nil); err != nil {
		return fmt.Errorf("failed to save changes: %w", err)
	}
	fmt.Printf("\nApplied %d changes:\n", len(changes))
	for _, c := range changes {
		fmt.Printf("  - %s\n", c)
	}
	return nil
}

func parseSelection(s string, evals []domain.EntityEvaluation) ([]int, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		var all []int
		for _, ev := range evals {
			if ev.Recommendation == domain.RecommendChangeLabel || ev.Recommendation == domain.RecommendDelete {
				all = append(all, ev.EntityIndex)
			}
		}
		return all, nil
	}

	var selected []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid entity index %q", part)
		}
		selected = append(selected, idx)
	}
	return selected, nil
}
