package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"annotator/internal/domain"
)

// MaxFewShot caps how many examples go into an annotation prompt.
const MaxFewShot = 3

//go:embed templates/*.tmpl
var templateFS embed.FS

type Builder struct {
	annotation *template.Template
	evaluation *template.Template
}

func NewBuilder() (*Builder, error) {
	funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}

	annotation, err := template.New("annotation.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/annotation.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse annotation template: %w", err)
	}
	evaluation, err := template.New("evaluation.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/evaluation.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse evaluation template: %w", err)
	}
	return &Builder{annotation: annotation, evaluation: evaluation}, nil
}

// Annotation renders the per-chunk annotation prompt.
func (b *Builder) Annotation(tags []domain.TagDefinition, text string, fewShot []domain.FewShotExample) (string, error) {
	if len(fewShot) > MaxFewShot {
		fewShot = fewShot[:MaxFewShot]
	}

	terms := ExclusionTerms(tags)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}

	var buf bytes.Buffer
	err := b.annotation.Execute(&buf, struct {
		Exclusions string
		Tags       []domain.TagDefinition
		FewShot    []domain.FewShotExample
		Text       string
	}{
		Exclusions: strings.Join(quoted, ", "),
		Tags:       tags,
		FewShot:    fewShot,
		Text:       text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render annotation prompt: %w", err)
	}
	return buf.String(), nil
}

// Evaluation renders the quality-control prompt for a batch of entities.
// Entities are numbered from 0 to match entity_index in the reply.
func (b *Builder) Evaluation(tags []domain.TagDefinition, entities []domain.Entity) (string, error) {
	var buf bytes.Buffer
	err := b.evaluation.Execute(&buf, struct {
		Tags     []domain.TagDefinition
		Entities []domain.Entity
	}{Tags: tags, Entities: entities})
	if err != nil {
		return "", fmt.Errorf("failed to render evaluation prompt: %w", err)
	}
	return buf.String(), nil
}

var numberPairs = map[string]string{
	"properties": "property", "property": "properties",
	"methods": "method", "method": "methods",
	"types": "type", "type": "types",
	"conditions": "condition", "condition": "conditions",
	"processes": "process", "process": "processes",
	"analyses": "analysis", "analysis": "analyses",
	"results": "result", "result": "results",
}

var casings = []func(string) string{
	strings.ToLower,
	strings.ToUpper,
	titleCase,
	capitalize,
}

// ExclusionTerms lists the spellings of every tag name the model must not
// annotate literally: each separator, each casing, singular and plural.
func ExclusionTerms(tags []domain.TagDefinition) []string {
	set := make(map[string]struct{})
	for _, tag := range tags {
		base := strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(tag.Name))
		words := strings.Fields(base)
		if len(words) == 0 {
			continue
		}

		forms := [][]string{words}
		last := words[len(words)-1]
		if other, ok := numberPairs[last]; ok {
			alt := append(append([]string(nil), words[:len(words)-1]...), other)
			forms = append(forms, alt)
		}

		for _, form := range forms {
			for _, sep := range []string{" ", "-", "_"} {
				joined := strings.Join(form, sep)
				for _, c := range casings {
					set[c(joined)] = struct{}{}
				}
			}
		}
	}

	terms := make([]string, 0, len(set))
	for t := range set {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// titleCase upper-cases every letter that follows a non-letter.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + strings.ToLower(s[i+len(string(r)):])
	}
	return s
}
