package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"annotator/internal/domain"
)

type CSVExporter struct{}

var csvHeader = []string{"id", "start_char", "end_char", "text", "label", "length", "source"}

// Export writes one row per entity. With several records an annotation_id
// column comes first.
func (e *CSVExporter) Export(w io.Writer, records ...domain.AnnotationRecord) error {
	cw := csv.NewWriter(w)
	batch := len(records) > 1

	header := csvHeader
	if batch {
		header = append([]string{"annotation_id"}, csvHeader...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		for i, ent := range r.Entities {
			src := string(ent.Source)
			if src == "" {
				src = string(domain.SourceLLM)
			}
			row := []string{
				strconv.Itoa(i),
				strconv.Itoa(ent.StartChar),
				strconv.Itoa(ent.EndChar),
				ent.Text,
				ent.Label,
				strconv.Itoa(ent.Len()),
				src,
			}
			if batch {
				row = append([]string{r.ID}, row...)
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func (e *CSVExporter) ContentType() string { return "text/csv" }

func (e *CSVExporter) Extension() string { return ".csv" }
