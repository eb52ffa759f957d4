package llm

import (
	"fmt"
	"time"
)

// Provider names accepted by NewProvider.
const (
	ProviderAuto       = "auto"
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderMock       = "mock"
	ProviderDisabled   = "disabled"
)

// Config holds all completion provider configuration.
type Config struct {
	// Provider selects the backend. "auto" picks the first provider with an
	// API key; with no key at all the client is disabled and every turn runs
	// on fallback responses.
	Provider string

	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Retry      RetryConfig

	// MaxTokens is the output budget for tutor replies.
	MaxTokens int
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// OpenRouterConfig holds OpenRouter-specific configuration.
type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns a Config with the stock models and retry policy.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderAuto,
		Anthropic:  AnthropicConfig{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		Gemini:     GeminiConfig{Model: "gemini-flash"},
		OpenRouter: OpenRouterConfig{Model: "google/gemini-2.0-flash-exp"},
		Retry: RetryConfig{
			MaxAttempts: 2,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2.0,
		},
		MaxTokens: 1000,
	}
}

// Resolved returns the concrete provider name: "auto" becomes the first
// provider with a key (gemini, openai, anthropic, openrouter) or "disabled".
func (c Config) Resolved() string {
	if c.Provider != "" && c.Provider != ProviderAuto {
		return c.Provider
	}
	switch {
	case c.Gemini.APIKey != "":
		return ProviderGemini
	case c.OpenAI.APIKey != "":
		return ProviderOpenAI
	case c.Anthropic.APIKey != "":
		return ProviderAnthropic
	case c.OpenRouter.APIKey != "":
		return ProviderOpenRouter
	default:
		return ProviderDisabled
	}
}

// Validate checks that the selected provider has its required API key set.
func (c Config) Validate() error {
	switch c.Resolved() {
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderOpenRouter:
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required for the openrouter provider")
		}
	case ProviderMock, ProviderDisabled:
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	return nil
}
