package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to the chat completions API. With a base URL it also
// serves OpenAI-compatible servers such as Ollama.
type OpenAIProvider struct {
	client openai.Client
	name   string
	config Config
}

// NewOpenAIProvider creates an OpenAI or local (OpenAI-compatible) provider.
// The local backend does not require an API key.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	cfg = cfg.WithDefaults()
	name := cfg.Provider
	if name != NameLocal {
		name = NameOpenAI
		if err := requireKey(name, cfg.APIKey); err != nil {
			return nil, err
		}
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	key := cfg.APIKey
	if key == "" {
		// Ollama ignores the key but the client insists on one.
		key = "ollama"
	}
	opts = append(opts, option.WithAPIKey(key))
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
		config: cfg,
	}, nil
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.config.Model }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.config.MaxTokens))
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.mapError(err)
	}
	if len(response.Choices) == 0 {
		return "", emptyResponse(p.name)
	}
	content := response.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", emptyResponse(p.name)
	}
	return content, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return fromStatus(p.name, apiErr.StatusCode, apiErr.Message, err, header)
	}
	return fromTransport(p.name, err)
}
