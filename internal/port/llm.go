package port

import "context"

// Completion is the raw text a model returned plus its token accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Cached       bool
}

// LLM represents a language model used for span annotation.
type LLM interface {
	// Complete sends a single prompt and returns the raw response text.
	Complete(ctx context.Context, prompt string) (Completion, error)

	// ModelName returns the name of the model.
	ModelName() string
}
