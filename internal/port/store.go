package port

import "annotator/internal/domain"

// RecordFilter selects records by equality. Empty fields match everything.
type RecordFilter struct {
	ProjectID string
	Model     string
	Path      string
}

// Page selects a window of a listing. Limit 0 means no limit.
type Page struct {
	Offset int
	Limit  int
}

// AnnotationStore persists annotation runs.
type AnnotationStore interface {
	// Put stores the record and returns it with ID and timestamps filled in.
	Put(record domain.AnnotationRecord) (domain.AnnotationRecord, error)

	Get(id string) (domain.AnnotationRecord, error)

	Delete(id string) error

	// List returns one page of matching records and the total match count.
	List(filter RecordFilter, page Page) ([]domain.AnnotationRecord, int, error)

	UpdateEntities(id string, entities []domain.Entity, fixStats *domain.FixStats) (domain.AnnotationRecord, error)

	RecordEvaluation(id string, evals []domain.EntityEvaluation) (domain.AnnotationRecord, error)

	Close() error
}
