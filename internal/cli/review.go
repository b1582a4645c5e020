package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"annotator/internal/adapter/fs"
	"annotator/internal/domain"
	"annotator/internal/usecase"
)

var (
	validateRecord   string
	validateText     string
	validateEntities string
	validateJSON     bool

	repairRecord   string
	repairStrategy string
	repairFuzzy    bool
	repairSave     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that entity offsets match the text",
	Long: `Check every entity's offsets against the document text.

Examples:
  annotator validate --record 3f2a...
  annotator validate --text paper.txt --entities entities.json --json`,
	RunE: runValidate,
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Relocate entities whose offsets drifted",
	Long: `Search the text for each mismatched entity and move it to a matching
occurrence. Entities that cannot be found are left unchanged.

Examples:
  annotator repair --record 3f2a...
  annotator repair --record 3f2a... --strategy first --fuzzy --save`,
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateRecord, "record", "r", "", "stored annotation ID")
	validateCmd.Flags().StringVar(&validateText, "text", "", "text file, used with --entities")
	validateCmd.Flags().StringVar(&validateEntities, "entities", "", "JSON file holding an entity list")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(repairCmd)
	repairCmd.Flags().StringVarP(&repairRecord, "record", "r", "", "stored annotation ID (required)")
	repairCmd.Flags().StringVar(&repairStrategy, "strategy", "", "closest or first (default from config)")
	repairCmd.Flags().BoolVar(&repairFuzzy, "fuzzy", false, "also try whitespace and case variants")
	repairCmd.Flags().BoolVar(&repairSave, "save", false, "save the repaired entities")
	repairCmd.MarkFlagRequired("record")
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		result  domain.ValidationResult
		summary domain.ValidationSummary
	)

	switch {
	case validateRecord != "":
		st, err := openExistingStore()
		if err != nil {
			return err
		}
		defer st.Close()

		checked, err := usecase.NewReviewUseCase(st, logger).ValidateRecord(validateRecord)
		if err != nil {
			return err
		}
		result, summary = checked.Result, checked.Summary

	case validateText != "" && validateEntities != "":
		text, err := fs.ReadFile(validateText)
		if err != nil {
			return fmt.Errorf("failed to read text: %w", err)
		}
		entities, err := readEntities(validateEntities)
		if err != nil {
			return err
		}
		result, summary = usecase.ValidateAnnotations(text, entities)

	default:
		return fmt.Errorf("specify --record, or --text with --entities")
	}

	if validateJSON {
		return printJSON(struct {
			Summary domain.ValidationSummary `json:"summary"`
			Result  domain.ValidationResult  `json:"result"`
		}{summary, result})
	}

	fmt.Printf("Validation %s: %d/%d correct (%.2f%%)\n",
		summary.Status, summary.Correct, summary.Total, summary.AccuracyPercentage)
	for _, e := range result.Errors {
		actual := "<out of range>"
		if e.ActualText != nil {
			actual = fmt.Sprintf("%q", *e.ActualText)
		}
		fmt.Printf("  [%d] %s: [%d:%d] %s claims %q, text has %s\n",
			e.Index, e.Reason, e.StartChar, e.EndChar, e.Label, e.ExpectedText, actual)
	}
	if summary.WarningCount > 0 {
		fmt.Printf("\nWarnings: %d\n", summary.WarningCount)
		for _, w := range result.Warnings {
			fmt.Printf("  - %s: entities %v\n", w.Type, w.Indices)
		}
	}
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	strategy := repairStrategy
	if strategy == "" {
		strategy = cfg.Repair.Strategy
	}
	fuzzy := repairFuzzy || cfg.Repair.Fuzzy

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out, err := usecase.NewReviewUseCase(st, logger).RepairRecord(repairRecord, strategy, fuzzy, repairSave)
	if err != nil {
		return err
	}

	s := out.Stats
	fmt.Printf("Repair (%s):\n", s.StrategyUsed)
	fmt.Printf("  Total:            %d\n", s.Total)
	fmt.Printf("  Already correct:  %d\n", s.AlreadyCorrect)
	fmt.Printf("  Fixed:            %d\n", s.Fixed)
	fmt.Printf("  Unfixable:        %d\n", s.Unfixable)
	fmt.Printf("  Multiple matches: %d\n", s.MultipleMatches)
	fmt.Printf("\nAfter repair: %d/%d correct (%.2f%%)\n",
		out.After.Correct, out.After.Total, out.After.AccuracyPercentage)

	switch {
	case out.Saved:
		fmt.Printf("Saved to %s\n", out.Record.ID)
	case s.Fixed > 0:
		fmt.Println("Run again with --save to keep the repaired offsets.")
	}
	return nil
}

// readEntities loads an entity list, either a bare array or an object with
// an "entities" field.
func readEntities(path string) ([]domain.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}
	var entities []domain.Entity
	if err := json.Unmarshal(data, &entities); err == nil {
		return entities, nil
	}
	var wrapped struct {
		Entities []domain.Entity `json:"entities"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse entities: %w", err)
	}
	return wrapped.Entities, nil
}
