package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AzureFoundryProvider implements Provider using Azure AI Foundry with Anthropic models.
// Azure AI Foundry uses the same authentication as the standard Anthropic API:
// - Uses "x-api-key" header for authentication
// - Base URL format: https://{resource}.services.ai.azure.com/anthropic/
type AzureFoundryProvider struct {
	client   *http.Client
	config   AzureFoundryConfig
	endpoint string
}

// AzureFoundryConfig contains configuration for Azure AI Foundry.
type AzureFoundryConfig struct {
	// Endpoint is the Azure AI Foundry endpoint URL
	// Format: https://{resource}.services.ai.azure.com
	Endpoint string

	// APIKey is the Azure AI Foundry API key
	APIKey string

	// Model is the deployed model identifier
	Model string

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative)
	Temperature float64

	// Timeout for HTTP requests (default: 120s)
	Timeout time.Duration
}

// DefaultAzureFoundryConfig returns sensible defaults for Azure AI Foundry.
func DefaultAzureFoundryConfig() AzureFoundryConfig {
	return AzureFoundryConfig{
		Model:       DefaultModel(NameAzureFoundry),
		MaxTokens:   DefaultMaxTokens,
		Temperature: 0.0,
		Timeout:     120 * time.Second,
	}
}

// NewAzureFoundryProvider creates a new Azure AI Foundry provider.
func NewAzureFoundryProvider(cfg AzureFoundryConfig) (*AzureFoundryProvider, error) {
	if cfg.Endpoint == "" {
		return nil, &Error{Provider: NameAzureFoundry, Code: ErrorCodeConfig, Message: "Azure AI Foundry endpoint is required (ai.base_url)"}
	}
	if cfg.APIKey == "" {
		return nil, &Error{Provider: NameAzureFoundry, Code: ErrorCodeConfig, Message: "Azure AI Foundry API key is required"}
	}

	// Apply defaults
	if cfg.Model == "" {
		cfg.Model = DefaultAzureFoundryConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultAzureFoundryConfig().MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultAzureFoundryConfig().Timeout
	}

	// Normalize endpoint - ensure it ends with /anthropic
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if !strings.HasSuffix(endpoint, "/anthropic") {
		endpoint += "/anthropic"
	}

	return &AzureFoundryProvider{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		config:   cfg,
		endpoint: endpoint,
	}, nil
}

// Complete implements Provider.
func (p *AzureFoundryProvider) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := p.buildRequest(prompt)

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.endpoint + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	// Azure AI Foundry uses the standard Anthropic "x-api-key" header
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fromTransport(NameAzureFoundry, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fromTransport(NameAzureFoundry, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.parseErrorResponse(resp.StatusCode, body, resp.Header)
	}

	return p.parseResponse(body)
}

// Name implements Provider.Name.
func (p *AzureFoundryProvider) Name() string {
	return NameAzureFoundry
}

// Model implements Provider.Model.
func (p *AzureFoundryProvider) Model() string {
	return p.config.Model
}

// Request types for Azure AI Foundry (compatible with Anthropic API)

type azureRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Messages    []azureMessage `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
}

type azureMessage struct {
	Role    string           `json:"role"`
	Content []azureTextBlock `json:"content"`
}

type azureTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type azureResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Content    []azureTextBlock `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      azureUsage       `json:"usage"`
}

type azureUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type azureErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest creates the Azure AI Foundry request body.
func (p *AzureFoundryProvider) buildRequest(prompt string) azureRequest {
	req := azureRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Messages: []azureMessage{{
			Role:    "user",
			Content: []azureTextBlock{{Type: "text", Text: prompt}},
		}},
	}
	if p.config.Temperature > 0 {
		req.Temperature = p.config.Temperature
	}
	return req
}

// parseResponse concatenates the text blocks of a response.
func (p *AzureFoundryProvider) parseResponse(body []byte) (string, error) {
	var azureResp azureResponse
	if err := json.Unmarshal(body, &azureResp); err != nil {
		return "", &Error{Provider: NameAzureFoundry, Code: ErrorCodeInvalidRequest,
			Message: "failed to parse response", Underlying: err}
	}

	var textParts []string
	for _, block := range azureResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	text := strings.Join(textParts, "")
	if strings.TrimSpace(text) == "" {
		return "", emptyResponse(NameAzureFoundry)
	}
	return text, nil
}

// parseErrorResponse parses an error response from Azure AI Foundry.
func (p *AzureFoundryProvider) parseErrorResponse(statusCode int, body []byte, header http.Header) error {
	var errResp azureErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return fromStatus(NameAzureFoundry, statusCode, strings.TrimSpace(string(body)), nil, header)
	}
	return fromStatus(NameAzureFoundry, statusCode,
		fmt.Sprintf("%s: %s", errResp.Error.Type, errResp.Error.Message), nil, header)
}
