package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"annotator/internal/port"
)

const systemPrompt = "You are a precise scientific text annotator. Reply with JSON only."

// OpenAIOptions configures an OpenAI-compatible chat endpoint.
type OpenAIOptions struct {
	APIKeyEnv   string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	key := os.Getenv(opts.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", opts.APIKeyEnv)
	}

	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (port.Completion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return port.Completion{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return port.Completion{}, newError(KindInvalidResponse, errors.New("no choices returned"))
	}

	return port.Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newError(kindForStatus(apiErr.HTTPStatusCode, fmt.Sprint(apiErr.Code)), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newError(kindForStatus(reqErr.HTTPStatusCode, ""), err)
	}
	return newError(KindTransient, err)
}

func kindForStatus(status int, code string) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired:
		return KindBilling
	case status == http.StatusTooManyRequests && code == "insufficient_quota":
		return KindQuota
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindTransient
	}
}
