package reconcile

import "annotator/internal/domain"

// Translate shifts chunk-local entity offsets into document offsets and
// stamps the chunk ID. Malformed offsets are shifted as-is and left for the
// validator.
func Translate(chunk domain.Chunk, entities []domain.Entity) []domain.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]domain.Entity, len(entities))
	for i, e := range entities {
		id := chunk.ID
		e.StartChar += chunk.BaseOffset
		e.EndChar += chunk.BaseOffset
		e.ChunkID = &id
		out[i] = e
	}
	return out
}
