package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"annotator/internal/domain"
)

// ErrMalformedResponse means nothing usable could be recovered from a model
// reply. It fails the chunk, not the run.
var ErrMalformedResponse = errors.New("malformed LLM response")

var flatObject = regexp.MustCompile(`\{[^{}]*\}`)

// ParseEntities extracts entities from a model reply. It accepts a bare JSON
// array, an object wrapping one under "annotations" or "entities", an array
// embedded in prose or a code fence, and finally loose flat objects. Items
// lacking start, end, text or label are dropped. An empty reply is zero
// entities, not an error.
func ParseEntities(raw string) ([]domain.Entity, error) {
	items, err := extractItems(raw, func(obj map[string]any) bool {
		_, ok := toEntity(obj)
		return ok
	})
	if err != nil {
		return nil, err
	}

	entities := make([]domain.Entity, 0, len(items))
	for _, obj := range items {
		if e, ok := toEntity(obj); ok {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// ParseEvaluations extracts quality-control verdicts from a model reply.
func ParseEvaluations(raw string) ([]domain.EntityEvaluation, error) {
	items, err := extractItems(raw, func(obj map[string]any) bool {
		_, ok := toEvaluation(obj)
		return ok
	})
	if err != nil {
		return nil, err
	}

	evals := make([]domain.EntityEvaluation, 0, len(items))
	for _, obj := range items {
		if ev, ok := toEvaluation(obj); ok {
			evals = append(evals, ev)
		}
	}
	return evals, nil
}

func extractItems(raw string, valid func(map[string]any) bool) ([]map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if items, ok := decodeItems(raw); ok {
		return items, nil
	}

	first, last := strings.Index(raw, "["), strings.LastIndex(raw, "]")
	if first >= 0 && last > first {
		if items, ok := decodeItems(raw[first : last+1]); ok {
			return items, nil
		}
	}

	var recovered []map[string]any
	for _, s := range flatObject.FindAllString(raw, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			continue
		}
		if valid(obj) {
			recovered = append(recovered, obj)
		}
	}
	if len(recovered) > 0 {
		return recovered, nil
	}

	return nil, fmt.Errorf("%w: nothing recoverable in a %d-character reply", ErrMalformedResponse, utf8.RuneCountInString(raw))
}

// Preview shortens a model reply for logging.
func Preview(raw string) string {
	const limit = 200
	runes := []rune(strings.TrimSpace(raw))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}

func decodeItems(s string) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}

	switch t := v.(type) {
	case []any:
		return objects(t), true
	case map[string]any:
		for _, key := range []string{"annotations", "entities", "evaluations"} {
			if list, ok := t[key].([]any); ok {
				return objects(list), true
			}
		}
	}
	return nil, false
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func toEntity(obj map[string]any) (domain.Entity, bool) {
	start, ok := intField(obj, "start_char", "start")
	if !ok {
		return domain.Entity{}, false
	}
	end, ok := intField(obj, "end_char", "end")
	if !ok {
		return domain.Entity{}, false
	}
	text, ok := obj["text"].(string)
	if !ok {
		return domain.Entity{}, false
	}
	label, ok := stringField(obj, "label", "tag")
	if !ok || label == "" {
		return domain.Entity{}, false
	}

	e := domain.Entity{
		StartChar: start,
		EndChar:   end,
		Text:      text,
		Label:     label,
		Source:    domain.SourceLLM,
	}
	// Scores outside [0,1] (percentages, negatives) are discarded rather than
	// compared against well-scaled ones during dedupe.
	if c, ok := floatField(obj, "confidence"); ok && c >= 0 && c <= 1 {
		e.Confidence = &c
	}
	return e, true
}

func toEvaluation(obj map[string]any) (domain.EntityEvaluation, bool) {
	idx, ok := intField(obj, "entity_index", "index")
	if !ok {
		return domain.EntityEvaluation{}, false
	}
	rec, ok := obj["recommendation"].(string)
	if !ok {
		return domain.EntityEvaluation{}, false
	}

	ev := domain.EntityEvaluation{
		EntityIndex:    idx,
		Recommendation: domain.Recommendation(strings.ToLower(strings.TrimSpace(rec))),
	}
	switch ev.Recommendation {
	case domain.RecommendKeep, domain.RecommendChangeLabel, domain.RecommendDelete, domain.RecommendManualReview:
	default:
		return domain.EntityEvaluation{}, false
	}

	ev.CurrentText, _ = obj["current_text"].(string)
	ev.CurrentLabel, _ = obj["current_label"].(string)
	ev.Reasoning, _ = obj["reasoning"].(string)
	if b, ok := obj["is_correct"].(bool); ok {
		ev.IsCorrect = b
	} else {
		ev.IsCorrect = ev.Recommendation == domain.RecommendKeep
	}
	if s, ok := obj["suggested_label"].(string); ok && s != "" {
		ev.SuggestedLabel = &s
	}
	return ev, true
}

func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

// intField accepts JSON numbers (models sometimes emit 12.0) and numeric
// strings.
func intField(obj map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			if v != math.Trunc(v) {
				return 0, false
			}
			return int(v), true
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func floatField(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
