package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"annotator/internal/domain"
)

var ErrUnknownStrategy = errors.New("unknown repair strategy")

// Strategy picks one occurrence when the claimed text appears more than once.
type Strategy string

const (
	// StrategyClosest picks the occurrence nearest the reported start.
	StrategyClosest Strategy = "closest"
	// StrategyFirst picks the lowest offset.
	StrategyFirst Strategy = "first"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyClosest:
		return StrategyClosest, nil
	case StrategyFirst:
		return StrategyFirst, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

type RepairOptions struct {
	Strategy Strategy
	// Fuzzy retries whitespace and case variants of the claimed text when it
	// has no exact occurrence. A fuzzy hit rewrites the entity text to the
	// matched substring.
	Fuzzy bool
}

// Repair relocates entities whose offsets do not index their text.
func Repair(doc *domain.Document, entities []domain.Entity, strategy Strategy) ([]domain.Entity, domain.FixStats) {
	return RepairWithOptions(doc, entities, RepairOptions{Strategy: strategy})
}

// RepairWithOptions returns a list of the same length and order as its input.
// Entities that cannot be located keep their original offsets and are only
// visible as Unfixable in the stats.
func RepairWithOptions(doc *domain.Document, entities []domain.Entity, opts RepairOptions) ([]domain.Entity, domain.FixStats) {
	strategy := opts.Strategy
	if strategy != StrategyFirst {
		strategy = StrategyClosest
	}

	stats := domain.FixStats{
		Total:        len(entities),
		StrategyUsed: string(strategy),
	}
	out := make([]domain.Entity, len(entities))

	for i, e := range entities {
		out[i] = e

		if doc.Matches(e) {
			stats.AlreadyCorrect++
			continue
		}
		if strings.TrimSpace(e.Text) == "" {
			stats.Unfixable++
			continue
		}

		var candidates []match
		for _, pos := range doc.IndexAll(e.Text) {
			candidates = append(candidates, match{pos: pos, text: e.Text})
		}
		if len(candidates) == 0 && opts.Fuzzy {
			candidates = fuzzyMatches(doc, e.Text)
		}

		if len(candidates) == 0 {
			stats.Unfixable++
			continue
		}
		if len(candidates) > 1 {
			stats.MultipleMatches++
		}

		m := choose(candidates, e.StartChar, strategy)
		out[i].StartChar = m.pos
		out[i].EndChar = m.pos + utf8.RuneCountInString(m.text)
		out[i].Text = m.text
		stats.Fixed++
	}

	return out, stats
}

type match struct {
	pos  int
	text string
}

func choose(candidates []match, reported int, strategy Strategy) match {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch strategy {
		case StrategyFirst:
			if c.pos < best.pos {
				best = c
			}
		default:
			d, bd := abs(c.pos-reported), abs(best.pos-reported)
			if d < bd || (d == bd && c.pos < best.pos) {
				best = c
			}
		}
	}
	return best
}

func fuzzyMatches(doc *domain.Document, text string) []match {
	var out []match
	for _, variant := range textVariants(text) {
		for _, pos := range doc.IndexAll(variant) {
			out = append(out, match{pos: pos, text: variant})
		}
	}
	return out
}

func textVariants(text string) []string {
	trimmed := strings.TrimSpace(text)
	raw := []string{
		trimmed,
		strings.TrimLeftFunc(text, unicode.IsSpace),
		strings.TrimRightFunc(text, unicode.IsSpace),
		" " + trimmed + " ",
		strings.ToLower(trimmed),
		strings.ToUpper(trimmed),
		capitalize(trimmed),
	}

	seen := map[string]bool{text: true}
	var variants []string
	for _, v := range raw {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	return variants
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
