package port

import "annotator/internal/domain"

type Chunker interface {
	Chunk(doc *domain.Document) []domain.Chunk
}
