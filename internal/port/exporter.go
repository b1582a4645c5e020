package port

import (
	"io"

	"annotator/internal/domain"
)

// Exporter serializes annotation records in one output format. A single
// record and a batch may be laid out differently.
type Exporter interface {
	Export(w io.Writer, records ...domain.AnnotationRecord) error

	ContentType() string

	Extension() string
}
