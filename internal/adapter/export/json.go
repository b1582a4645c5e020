package export

import (
	"encoding/json"
	"io"
	"time"

	"annotator/internal/domain"
)

type JSONExporter struct {
	opts Options
}

type jsonEntity struct {
	StartChar int           `json:"start_char"`
	EndChar   int           `json:"end_char"`
	Text      string        `json:"text"`
	Label     string        `json:"label"`
	Source    domain.Source `json:"source"`
}

type jsonMetadata struct {
	Model           string                     `json:"model"`
	Statistics      *domain.PipelineStatistics `json:"statistics,omitempty"`
	FixStats        *domain.FixStats           `json:"fix_stats,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	ExportTimestamp time.Time                  `json:"export_timestamp"`
}

type jsonDocument struct {
	ID       string        `json:"annotation_id,omitempty"`
	Text     string        `json:"text"`
	Entities []jsonEntity  `json:"entities"`
	Metadata *jsonMetadata `json:"metadata,omitempty"`
}

type jsonBatch struct {
	Annotations []jsonDocument `json:"annotations"`
	Metadata    struct {
		TotalCount      int       `json:"total_count"`
		ExportTimestamp time.Time `json:"export_timestamp"`
	} `json:"metadata"`
}

// Export writes one document object, or a batch wrapper for several records.
func (e *JSONExporter) Export(w io.Writer, records ...domain.AnnotationRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	now := e.opts.Now().UTC()

	if len(records) == 1 {
		return enc.Encode(e.document(records[0], now))
	}

	var batch jsonBatch
	batch.Annotations = make([]jsonDocument, 0, len(records))
	for _, r := range records {
		batch.Annotations = append(batch.Annotations, e.document(r, now))
	}
	batch.Metadata.TotalCount = len(records)
	batch.Metadata.ExportTimestamp = now
	return enc.Encode(batch)
}

func (e *JSONExporter) document(r domain.AnnotationRecord, now time.Time) jsonDocument {
	doc := jsonDocument{
		ID:       r.ID,
		Text:     r.Text,
		Entities: make([]jsonEntity, 0, len(r.Entities)),
	}
	for _, ent := range r.Entities {
		src := ent.Source
		if src == "" {
			src = domain.SourceLLM
		}
		doc.Entities = append(doc.Entities, jsonEntity{
			StartChar: ent.StartChar,
			EndChar:   ent.EndChar,
			Text:      ent.Text,
			Label:     ent.Label,
			Source:    src,
		})
	}
	if e.opts.IncludeMetadata {
		stats := r.Statistics
		doc.Metadata = &jsonMetadata{
			Model:           r.Model,
			Statistics:      &stats,
			FixStats:        r.FixStats,
			CreatedAt:       r.CreatedAt,
			ExportTimestamp: now,
		}
	}
	return doc
}

func (e *JSONExporter) ContentType() string { return "application/json" }

func (e *JSONExporter) Extension() string { return ".json" }
