// Package provider implements the inference backends consulted by the
// diagnostic loop. Every backend takes the fully rendered prompt and returns
// the model's reply text.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider sends one prompt and returns the reply.
type Provider interface {
	// Name identifies the backend, e.g. "openai".
	Name() string

	// Model is the model identifier requests are sent to.
	Model() string

	// Complete sends prompt as a single user turn. Failures are returned as
	// *Error.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Backend names accepted in configuration.
const (
	NameOpenAI       = "openai"
	NameAnthropic    = "anthropic"
	NameLocal        = "local"
	NameGemini       = "gemini"
	NameAzureFoundry = "azure-foundry"
	NameScripted     = "scripted"
)

// Names lists the supported backends.
func Names() []string {
	return []string{NameOpenAI, NameAnthropic, NameLocal, NameGemini, NameAzureFoundry, NameScripted}
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// MaxRetries is the number of retries for retryable failures.
	MaxRetries int

	// RequestsPerMinute caps the request rate. Zero means unlimited.
	RequestsPerMinute int

	// Scenario is the script file used by the scripted backend.
	Scenario string
}

// Defaults applied when a Config leaves a field empty.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTimeout     = 120 * time.Second
	DefaultLocalURL    = "http://localhost:11434/v1"
)

// DefaultModel returns the model used when none is configured.
func DefaultModel(name string) string {
	switch name {
	case NameOpenAI:
		return "gpt-4o-mini"
	case NameAnthropic:
		return "claude-3-5-sonnet-20241022"
	case NameLocal:
		return "llama2"
	case NameGemini:
		return "gemini-2.0-flash"
	case NameAzureFoundry:
		return "claude-sonnet-4-5-20250929"
	case NameScripted:
		return "scripted"
	}
	return ""
}

// WithDefaults fills empty fields.
func (c Config) WithDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = NameOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Provider == NameLocal && c.BaseURL == "" {
		c.BaseURL = DefaultLocalURL
	}
	return c
}

// New builds the configured backend wrapped with rate limiting and retries.
func New(cfg Config) (Provider, error) {
	cfg = cfg.WithDefaults()

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case NameOpenAI, NameLocal:
		p, err = NewOpenAIProvider(cfg)
	case NameAnthropic:
		p, err = NewAnthropicProvider(cfg)
	case NameGemini:
		p, err = NewGeminiProvider(context.Background(), cfg)
	case NameAzureFoundry:
		p, err = NewAzureFoundryProvider(AzureFoundryConfig{
			Endpoint:    cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case NameScripted:
		p, err = NewScriptedProviderFromFile(cfg.Scenario)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q (supported: %s)", cfg.Provider, strings.Join(Names(), ", "))
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		p = WithRateLimit(p, cfg.RequestsPerMinute)
	}
	if cfg.MaxRetries > 0 {
		p = WithRetry(p, RetryConfig{MaxRetries: cfg.MaxRetries})
	}
	return p, nil
}

func requireKey(name, key string) error {
	if key == "" {
		return &Error{
			Provider: name,
			Code:     ErrorCodeConfig,
			Message:  "API key is required (set AI_API_KEY or ai.api_key)",
		}
	}
	return nil
}
