package rewrite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService implements Service with the chat completions API.
type OpenAIService struct {
	client *openai.Client
	model  string
}

// NewOpenAIService creates a service for the given model. baseURL is optional
// and points the client at a compatible endpoint.
func NewOpenAIService(apiKey, model, baseURL string) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Complete sends the instruction as the system message and the text as the
// user message.
func (s *OpenAIService) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.Instruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", NewServiceError(KindFatal, errors.New("no choices in response"))
	}

	return resp.Choices[0].Message.Content, nil
}

// classifyError maps go-openai errors onto rate_limited, transient and fatal.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewServiceError(kindForStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewServiceError(kindForStatus(reqErr.HTTPStatusCode), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewServiceError(KindTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewServiceError(KindTransient, err)
	}

	// Some proxies return plain-text 429 bodies that go-openai cannot decode.
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "Rate limit") {
		return NewServiceError(KindRateLimited, err)
	}

	return NewServiceError(KindFatal, fmt.Errorf("openai completion: %w", err))
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= http.StatusInternalServerError:
		return KindTransient
	case status == http.StatusRequestTimeout:
		return KindTransient
	default:
		return KindFatal
	}
}
