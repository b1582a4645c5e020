package llm

import (
	"context"
	"strings"
	"sync"

	"annotator/internal/port"
)

// MockClient is a scripted LLM for tests and offline runs. Call i returns
// Errors[i] if set, else Responses[i], else the last response ("[]" when
// there are none). A Responder, when set, takes precedence.
type MockClient struct {
	Responses []string
	Errors    []error
	Responder func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (port.Completion, error) {
	if err := ctx.Err(); err != nil {
		return port.Completion{}, err
	}

	m.mu.Lock()
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	var (
		text string
		err  error
	)
	switch {
	case m.Responder != nil:
		text, err = m.Responder(prompt)
	case i < len(m.Errors) && m.Errors[i] != nil:
		err = m.Errors[i]
	case i < len(m.Responses):
		text = m.Responses[i]
	case len(m.Responses) > 0:
		text = m.Responses[len(m.Responses)-1]
	default:
		text = "[]"
	}
	if err != nil {
		return port.Completion{}, err
	}

	return port.Completion{
		Text:         text,
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: len(strings.Fields(text)),
	}, nil
}

func (m *MockClient) ModelName() string {
	return "mock"
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
