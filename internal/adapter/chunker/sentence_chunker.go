package chunker

import (
	"fmt"

	"annotator/internal/domain"
)

// DefaultLookback is how far before a hard cut the chunker searches for a
// sentence end.
const DefaultLookback = 100

type SentenceChunker struct {
	size     int
	overlap  int
	lookback int
}

// NewSentenceChunker creates a chunker producing windows of at most size code
// points that share overlap code points with their predecessor.
func NewSentenceChunker(size, overlap, lookback int) (*SentenceChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap)
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	// A sentence break may shorten a window by at most half its stride, so a
	// run still advances at least half a stride per chunk.
	if maxLookback := (size - overlap) / 2; lookback > maxLookback {
		lookback = maxLookback
	}
	return &SentenceChunker{
		size:     size,
		overlap:  overlap,
		lookback: lookback,
	}, nil
}

// Chunk splits the document. An empty document yields no chunks.
func (c *SentenceChunker) Chunk(doc *domain.Document) []domain.Chunk {
	runes := doc.Runes()
	n := len(runes)
	if n == 0 {
		return nil
	}

	if n <= c.size {
		return []domain.Chunk{{ID: 0, Text: doc.Text(), BaseOffset: 0, Length: n}}
	}

	var chunks []domain.Chunk
	start := 0

	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}

		if end < n {
			if brk := c.sentenceBreak(runes, start, end); brk > 0 {
				end = brk
			}
		}

		chunks = append(chunks, domain.Chunk{
			ID:         len(chunks),
			Text:       string(runes[start:end]),
			BaseOffset: start,
			Length:     end - start,
		})

		if end >= n {
			break
		}

		newStart := end - c.overlap
		if newStart <= start {
			newStart = start + 1
		}
		start = newStart
	}

	return chunks
}

// sentenceBreak returns the offset just past the last ". ", "! ", "? " (or
// newline variants) inside the lookback window, or -1 if there is none.
func (c *SentenceChunker) sentenceBreak(runes []rune, start, end int) int {
	if c.lookback <= 0 {
		return -1
	}
	searchStart := end - c.lookback
	if searchStart < start {
		searchStart = start
	}

	for i := end - 2; i >= searchStart; i-- {
		if isTerminal(runes[i]) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			return i + 2
		}
	}
	return -1
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
