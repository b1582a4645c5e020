package export

import (
	"bufio"
	"fmt"
	"io"
	"unicode"

	"annotator/internal/domain"
)

type CoNLLExporter struct{}

// Token is a whitespace-delimited word with code-point offsets.
type Token struct {
	Text       string
	Start, End int
}

// Export writes "token\tTAG" lines. Tokens are whitespace-separated runs.
// The first token an entity overlaps gets B-, the following ones I-.
// Later entities overwrite earlier tags on shared tokens. Several records
// are separated by "# Annotation ID:" headers and a blank line.
func (e *CoNLLExporter) Export(w io.Writer, records ...domain.AnnotationRecord) error {
	bw := bufio.NewWriter(w)
	batch := len(records) > 1

	for i, r := range records {
		if batch {
			if i > 0 {
				fmt.Fprintln(bw)
			}
			fmt.Fprintf(bw, "# Annotation ID: %s\n", r.ID)
		}
		tokens, tags := Tag(r.Text, r.Entities)
		for j, tok := range tokens {
			fmt.Fprintf(bw, "%s\t%s\n", tok.Text, tags[j])
		}
	}
	return bw.Flush()
}

// Tag assigns BIO tags to the whitespace tokens of text.
func Tag(text string, entities []domain.Entity) ([]Token, []string) {
	tokens := tokenize(text)
	tags := make([]string, len(tokens))
	for i := range tags {
		tags[i] = "O"
	}

	for _, ent := range entities {
		first := true
		for i, tok := range tokens {
			if tok.End <= ent.StartChar || tok.Start >= ent.EndChar {
				continue
			}
			if first {
				tags[i] = "B-" + ent.Label
				first = false
			} else {
				tags[i] = "I-" + ent.Label
			}
		}
	}
	return tokens, tags
}

// tokenize splits on Unicode whitespace, recording code-point offsets.
func tokenize(text string) []Token {
	var (
		tokens []Token
		buf    []rune
		start  int
	)
	pos := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			if len(buf) > 0 {
				tokens = append(tokens, Token{Text: string(buf), Start: start, End: pos})
				buf = buf[:0]
			}
		} else {
			if len(buf) == 0 {
				start = pos
			}
			buf = append(buf, r)
		}
		pos++
	}
	if len(buf) > 0 {
		tokens = append(tokens, Token{Text: string(buf), Start: start, End: pos})
	}
	return tokens
}

func (e *CoNLLExporter) ContentType() string { return "text/plain" }

func (e *CoNLLExporter) Extension() string { return ".conll" }
