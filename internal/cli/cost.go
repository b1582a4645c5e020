package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"annotator/internal/adapter/cost"
	"annotator/internal/adapter/fs"
)

var (
	costModel      string
	costInput      int
	costOutput     int
	costEstimate   string
	costCompare    string
	costComplexity float64
	costJSON       bool
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Price token usage or estimate the cost of annotating a file",
	Long: `Price a token count, estimate the cost of annotating a file with one model,
or compare every priced model.

Examples:
  annotator cost --model gpt-4o --in 12000 --out 1800
  annotator cost --estimate paper.txt
  annotator cost --compare paper.txt --complexity 1.5`,
	Args: cobra.NoArgs,
	RunE: runCost,
}

func init() {
	rootCmd.AddCommand(costCmd)
	costCmd.Flags().StringVarP(&costModel, "model", "m", "", "model to price (default from config)")
	costCmd.Flags().IntVar(&costInput, "in", 0, "input tokens")
	costCmd.Flags().IntVar(&costOutput, "out", 0, "output tokens")
	costCmd.Flags().StringVar(&costEstimate, "estimate", "", "estimate the cost of annotating this file")
	costCmd.Flags().StringVar(&costCompare, "compare", "", "compare every priced model on this file")
	costCmd.Flags().Float64Var(&costComplexity, "complexity", 1.0, "expected output density multiplier")
	costCmd.Flags().BoolVar(&costJSON, "json", false, "output as JSON")
}

func runCost(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	calc := cost.NewCalculator(cfg.Pricing)
	model := costModel
	if model == "" {
		model = cfg.LLM.Model
	}

	switch {
	case costCompare != "":
		n, err := textLength(costCompare)
		if err != nil {
			return err
		}
		cmp := calc.Compare(n, costComplexity)
		if costJSON {
			return printJSON(cmp)
		}
		fmt.Printf("Estimated cost for %s (%d characters):\n", costCompare, n)
		for _, b := range cmp.Estimates {
			fmt.Printf("  %-18s $%.6f  (%d in, %d out)\n", b.Model, b.TotalCost, b.InputTokens, b.OutputTokens)
		}
		return nil

	case costEstimate != "":
		n, err := textLength(costEstimate)
		if err != nil {
			return err
		}
		b := calc.Estimate(model, n, costComplexity)
		if costJSON {
			return printJSON(b)
		}
		fmt.Printf("Estimated cost for %s with %s: $%.6f (%d in, %d out)\n",
			costEstimate, b.Model, b.TotalCost, b.InputTokens, b.OutputTokens)
		return nil

	case costInput > 0 || costOutput > 0:
		b := calc.Calculate(model, costInput, costOutput)
		if costJSON {
			return printJSON(b)
		}
		fmt.Printf("%s: input $%.6f + output $%.6f = $%.6f\n", b.Model, b.InputCost, b.OutputCost, b.TotalCost)
		return nil
	}

	return fmt.Errorf("specify --in/--out, --estimate or --compare")
}

func textLength(path string) (int, error) {
	text, err := fs.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return utf8.RuneCountInString(text), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
