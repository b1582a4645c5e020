//go:build js && wasm

package main

import (
	"bytes"
	"encoding/json"
	"syscall/js"

	"annotator/internal/adapter/chunker"
	"annotator/internal/adapter/export"
	"annotator/internal/adapter/reconcile"
	"annotator/internal/domain"
)

// The browser build exposes the offline parts of the toolkit: chunk
// preview, validation, repair and export. Annotation itself needs an LLM
// and is left to the CLI.
func main() {
	c := make(chan struct{})

	js.Global().Set("annotatorChunk", js.FuncOf(chunkText))
	js.Global().Set("annotatorValidate", js.FuncOf(validate))
	js.Global().Set("annotatorRepair", js.FuncOf(repair))
	js.Global().Set("annotatorExport", js.FuncOf(exportEntities))

	<-c
}

func chunkText(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeError("usage: annotatorChunk(text, size, overlap)")
	}

	chk, err := chunker.NewSentenceChunker(args[1].Int(), args[2].Int(), 0)
	if err != nil {
		return makeError(err.Error())
	}
	chunks := chk.Chunk(domain.NewDocument(args[0].String()))

	return makeResult(map[string]interface{}{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

func validate(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: annotatorValidate(text, entitiesJSON)")
	}

	entities, err := parseEntities(args[1].String())
	if err != nil {
		return makeError(err.Error())
	}
	result := reconcile.Validate(domain.NewDocument(args[0].String()), entities)

	return makeResult(map[string]interface{}{
		"result":  result,
		"summary": reconcile.Summarize(result),
	})
}

func repair(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: annotatorRepair(text, entitiesJSON, [strategy], [fuzzy])")
	}

	entities, err := parseEntities(args[1].String())
	if err != nil {
		return makeError(err.Error())
	}
	opts := reconcile.RepairOptions{Strategy: reconcile.StrategyClosest}
	if len(args) > 2 && args[2].Truthy() {
		opts.Strategy, err = reconcile.ParseStrategy(args[2].String())
		if err != nil {
			return makeError(err.Error())
		}
	}
	if len(args) > 3 {
		opts.Fuzzy = args[3].Bool()
	}

	fixed, stats := reconcile.RepairWithOptions(domain.NewDocument(args[0].String()), entities, opts)

	return makeResult(map[string]interface{}{
		"entities":  fixed,
		"fix_stats": stats,
	})
}

func exportEntities(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeError("usage: annotatorExport(text, entitiesJSON, format)")
	}

	entities, err := parseEntities(args[1].String())
	if err != nil {
		return makeError(err.Error())
	}
	exp, err := export.New(args[2].String(), export.Options{})
	if err != nil {
		return makeError(err.Error())
	}

	var buf bytes.Buffer
	record := domain.AnnotationRecord{Text: args[0].String(), Entities: entities}
	if err := exp.Export(&buf, record); err != nil {
		return makeError("export failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"content":      buf.String(),
		"content_type": exp.ContentType(),
		"extension":    exp.Extension(),
	})
}

func parseEntities(raw string) ([]domain.Entity, error) {
	var entities []domain.Entity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data map[string]interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
