package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"annotator/internal/domain"
	"annotator/internal/port"
)

var (
	listProject string
	listModel   string
	listPath    string
	listOffset  int
	listLimit   int
	listJSON    bool

	showJSON bool

	exportRecords []string
	exportProject string
	exportFormat  string
	exportOut     string

	deleteAll bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored annotations",
	Long: `List stored annotations, newest first.

Examples:
  annotator list
  annotator list --project atlas --limit 10 --offset 10`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored annotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored annotations as JSON, CSV or CoNLL",
	Long: `Export one or more stored annotations.

Examples:
  annotator export --record 3f2a... --format conll
  annotator export --project atlas --format csv -o atlas.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id...]",
	Short: "Delete stored annotations",
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listProject, "project", "", "only records of this project")
	listCmd.Flags().StringVar(&listModel, "model", "", "only records annotated by this model")
	listCmd.Flags().StringVar(&listPath, "path", "", "only records of this source path")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "skip this many records")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum records to show (0 for all)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output the full record as JSON")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringSliceVarP(&exportRecords, "record", "r", nil, "annotation IDs to export")
	exportCmd.Flags().StringVar(&exportProject, "project", "", "export every record of this project")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "json, csv or conll (default from config)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "-", "output file, - for stdout")

	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "delete every stored annotation")
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	records, total, err := st.List(
		port.RecordFilter{ProjectID: listProject, Model: listModel, Path: listPath},
		port.Page{Offset: listOffset, Limit: listLimit},
	)
	if err != nil {
		return fmt.Errorf("failed to list annotations: %w", err)
	}

	if listJSON {
		return printJSON(struct {
			Total   int                       `json:"total"`
			Records []domain.AnnotationRecord `json:"records"`
		}{total, records})
	}

	if total == 0 {
		fmt.Println("No annotations found.")
		return nil
	}
	for _, r := range records {
		name := r.Path
		if name == "" {
			name = "(text)"
		}
		project := ""
		if r.ProjectID != "" {
			project = " [" + r.ProjectID + "]"
		}
		fmt.Printf("%s  %s  %-24s %4d entities  %s%s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), name, len(r.Entities), r.Model, project)
	}
	fmt.Printf("\nShowing %d of %d\n", len(records), total)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := st.Get(args[0])
	if err != nil {
		return err
	}

	if showJSON {
		return printJSON(r)
	}

	fmt.Printf("ID:       %s\n", r.ID)
	if r.ProjectID != "" {
		fmt.Printf("Project:  %s\n", r.ProjectID)
	}
	if r.Path != "" {
		fmt.Printf("Path:     %s\n", r.Path)
	}
	fmt.Printf("Model:    %s\n", r.Model)
	fmt.Printf("Created:  %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Chunks:   %d/%d succeeded\n", r.Statistics.SuccessfulChunks, r.Statistics.TotalChunks)
	fmt.Printf("Cost:     $%.6f (%d tokens)\n", r.Statistics.Cost, r.Statistics.TotalTokens)
	if r.FixStats != nil {
		fmt.Printf("Repaired: %d fixed, %d unfixable (%s)\n", r.FixStats.Fixed, r.FixStats.Unfixable, r.FixStats.StrategyUsed)
	}

	verdicts := make(map[int]domain.EntityEvaluation, len(r.Evaluations))
	for _, ev := range r.Evaluations {
		verdicts[ev.EntityIndex] = ev
	}

	fmt.Printf("\nEntities (%d):\n", len(r.Entities))
	for i, e := range r.Entities {
		line := fmt.Sprintf("  %3d  [%d:%d]  %-16s %q", i, e.StartChar, e.EndChar, e.Label, e.Text)
		if ev, ok := verdicts[i]; ok {
			line += "  -> " + string(ev.Recommendation)
			if ev.SuggestedLabel != nil {
				line += " " + *ev.SuggestedLabel
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if len(exportRecords) == 0 && exportProject == "" {
		return fmt.Errorf("specify --record or --project")
	}

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var records []domain.AnnotationRecord
	for _, id := range exportRecords {
		r, err := st.Get(strings.TrimSpace(id))
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	if exportProject != "" {
		matched, _, err := st.List(port.RecordFilter{ProjectID: exportProject}, port.Page{})
		if err != nil {
			return fmt.Errorf("failed to list annotations: %w", err)
		}
		records = append(records, matched...)
	}
	if len(records) == 0 {
		return fmt.Errorf("no annotations matched")
	}

	format := exportFormat
	if format == "" && exportOut == "-" {
		format = GetConfig().Export.Format
	}
	if err := writeRecords(exportOut, format, records...); err != nil {
		return err
	}
	if exportOut != "-" {
		fmt.Printf("Exported %d annotations to %s\n", len(records), exportOut)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if deleteAll == (len(args) > 0) {
		return fmt.Errorf("specify IDs or --all")
	}

	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if deleteAll {
		if err := st.Clear(); err != nil {
			return fmt.Errorf("failed to clear annotations: %w", err)
		}
		fmt.Println("Deleted all annotations.")
		return nil
	}

	for _, id := range args {
		if err := st.Delete(id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return nil
}
