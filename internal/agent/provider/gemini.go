package provider

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is the subset of the genai SDK used by GeminiProvider.
type GeminiClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type sdkGeminiClient struct {
	client *genai.Client
}

func (c *sdkGeminiClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return c.client.Models.GenerateContent(ctx, model, contents, config)
}

// GeminiProvider talks to the Gemini API.
type GeminiProvider struct {
	client GeminiClient
	config Config
}

// NewGeminiProvider creates a Gemini provider backed by the genai SDK.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cfg = cfg.WithDefaults()
	if err := requireKey(NameGemini, cfg.APIKey); err != nil {
		return nil, err
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &Error{Provider: NameGemini, Code: ErrorCodeConfig, Message: "failed to create client", Underlying: err}
	}
	return NewGeminiProviderWithClient(&sdkGeminiClient{client: client}, cfg), nil
}

// NewGeminiProviderWithClient creates a provider around an existing client.
func NewGeminiProviderWithClient(client GeminiClient, cfg Config) *GeminiProvider {
	cfg.Provider = NameGemini
	return &GeminiProvider{client: client, config: cfg.WithDefaults()}
}

func (p *GeminiProvider) Name() string  { return NameGemini }
func (p *GeminiProvider) Model() string { return p.config.Model }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.config.MaxTokens),
	}
	if p.config.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.config.Temperature))
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		return "", mapGeminiError(err)
	}

	var text strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				text.WriteString(part.Text)
			}
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", emptyResponse(NameGemini)
	}
	return text.String(), nil
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromStatus(NameGemini, apiErr.Code, apiErr.Message, err, nil)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fromStatus(NameGemini, apiErrPtr.Code, apiErrPtr.Message, err, nil)
	}
	return fromTransport(NameGemini, err)
}
