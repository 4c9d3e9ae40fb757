package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultMaxTokens = 4096

// Prompt is a single-turn request: an instruction and the material it applies to.
type Prompt struct {
	System string
	User   string
}

type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

var errEmptyPrompt = errors.New("llm: prompt has no user content")

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the completion length where the provider requires one.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// ParseModel splits "provider/model", e.g. "anthropic/claude-sonnet-4-5".
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("no API key configured for LLM provider %q", provider)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}
