package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	config Config
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	cfg = cfg.WithDefaults()
	if err := requireKey(NameAnthropic, cfg.APIKey); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}, nil
}

func (p *AnthropicProvider) Name() string  { return NameAnthropic }
func (p *AnthropicProvider) Model() string { return p.config.Model }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(p.config.Temperature)
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.mapError(err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", emptyResponse(NameAnthropic)
	}
	return text.String(), nil
}

func (p *AnthropicProvider) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return fromStatus(NameAnthropic, apiErr.StatusCode, "", err, header)
	}
	return fromTransport(NameAnthropic, err)
}
