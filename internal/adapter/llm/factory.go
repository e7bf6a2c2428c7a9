package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Providers accepted by NewLLMClient.
const (
	ProviderMock      = "mock"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Options configures NewLLMClient.
type Options struct {
	Provider        string
	AnthropicAPIKey string
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
}

// NewLLMClient creates a client for the configured provider.
func NewLLMClient(opts Options, logger *slog.Logger) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderMock:
		logger.Info("using mock LLM client")
		return NewMockClient(), nil
	case ProviderAnthropic:
		return NewAnthropicClient(opts.AnthropicAPIKey, opts.BaseURL, opts.Model, nil)
	case ProviderOpenAI:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("LLM_BASE_URL is required for provider %q", opts.Provider)
		}
		return NewOpenAIClient(opts.BaseURL, opts.APIKey, opts.Model, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", opts.Provider)
	}
}
