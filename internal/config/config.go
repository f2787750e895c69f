// Package config holds the raid configuration file schema, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/moolen/raid/internal/agent/provider"
)

// Config holds all configuration for raid.
type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Agent      AgentConfig      `yaml:"agent"`
	Tools      ToolsConfig      `yaml:"tools"`
	KnownIssue KnownIssueConfig `yaml:"known_issues"`
	Output     OutputConfig     `yaml:"output"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AIConfig selects the inference provider.
type AIConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	// Scenario is the script replayed by the scripted provider.
	Scenario string `yaml:"scenario"`
}

// AgentConfig controls the diagnostic loop.
type AgentConfig struct {
	// MaxToolCalls is the tool call budget of a session.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// ContinueIncrement is added to the budget when the user continues
	// after the limit. Zero means MaxToolCalls.
	ContinueIncrement int    `yaml:"continue_increment"`
	AuditLog          string `yaml:"audit_log"`
}

// ToolsConfig controls tool execution.
type ToolsConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	MaxOutputBytes    int           `yaml:"max_output_bytes"`
	KubernetesBackend string        `yaml:"kubernetes_backend"`
	DockerBackend     string        `yaml:"docker_backend"`
	Kubeconfig        string        `yaml:"kubeconfig"`
}

// KnownIssueConfig points at a custom known issue catalog.
type KnownIssueConfig struct {
	File string `yaml:"file"`
}

// OutputConfig controls terminal output.
type OutputConfig struct {
	Format   string `yaml:"format"`
	Verbose  bool   `yaml:"verbose"`
	Color    bool   `yaml:"color"`
	Progress bool   `yaml:"progress"`
}

// DatabaseConfig locates the history database.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	AutoCleanup   bool   `yaml:"auto_cleanup"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	// Format is console or json.
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Backend selection values for ToolsConfig.
const (
	BackendAuto    = "auto"
	BackendKubectl = "kubectl"
	BackendNative  = "native"
	BackendCLI     = "cli"
	BackendAPI     = "api"
)

// Output formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Provider:    provider.NameOpenAI,
			MaxTokens:   provider.DefaultMaxTokens,
			Temperature: provider.DefaultTemperature,
			Timeout:     provider.DefaultTimeout,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			MaxToolCalls: 10,
		},
		Tools: ToolsConfig{
			Timeout:           30 * time.Second,
			CacheTTL:          10 * time.Second,
			MaxOutputBytes:    51200,
			KubernetesBackend: BackendAuto,
			DockerBackend:     BackendAuto,
		},
		Output: OutputConfig{
			Format:   FormatText,
			Color:    true,
			Progress: true,
		},
		Database: DatabaseConfig{
			Path:          "raid.db",
			RetentionDays: 30,
			AutoCleanup:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// ProviderConfig converts the ai section for provider.New.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Provider:          c.AI.Provider,
		APIKey:            c.AI.APIKey,
		Model:             c.AI.Model,
		BaseURL:           c.AI.BaseURL,
		MaxTokens:         c.AI.MaxTokens,
		Temperature:       c.AI.Temperature,
		Timeout:           c.AI.Timeout,
		MaxRetries:        c.AI.MaxRetries,
		RequestsPerMinute: c.AI.RequestsPerMinute,
		Scenario:          c.AI.Scenario,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !oneOf(strings.ToLower(c.AI.Provider), provider.Names()...) {
		return NewConfigError("ai.provider", fmt.Sprintf("unsupported provider %q (supported: %s)", c.AI.Provider, strings.Join(provider.Names(), ", ")))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return NewConfigError("ai.temperature", "must be between 0 and 2")
	}
	if c.AI.MaxTokens < 0 {
		return NewConfigError("ai.max_tokens", "must not be negative")
	}
	if c.AI.MaxRetries < 0 {
		return NewConfigError("ai.max_retries", "must not be negative")
	}
	if c.AI.RequestsPerMinute < 0 {
		return NewConfigError("ai.requests_per_minute", "must not be negative")
	}

	if c.Agent.MaxToolCalls < 1 {
		return NewConfigError("agent.max_tool_calls", "must be at least 1")
	}
	if c.Agent.ContinueIncrement < 0 {
		return NewConfigError("agent.continue_increment", "must not be negative")
	}

	if c.Tools.MaxOutputBytes < 0 {
		return NewConfigError("tools.max_output_bytes", "must not be negative")
	}
	if !oneOf(c.Tools.KubernetesBackend, BackendAuto, BackendKubectl, BackendNative) {
		return NewConfigError("tools.kubernetes_backend", "must be auto, kubectl or native")
	}
	if !oneOf(c.Tools.DockerBackend, BackendAuto, BackendCLI, BackendAPI) {
		return NewConfigError("tools.docker_backend", "must be auto, cli or api")
	}

	if !oneOf(c.Output.Format, FormatText, FormatMarkdown, FormatJSON) {
		return NewConfigError("output.format", "must be text, markdown or json")
	}
	if c.Database.RetentionDays < 0 {
		return NewConfigError("database.retention_days", "must not be negative")
	}
	if !oneOf(c.Logging.Format, "console", "json") {
		return NewConfigError("logging.format", "must be console or json")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint", "must be set when tracing is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return NewConfigError("metrics.addr", "must be set when metrics are enabled")
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.message
	}
	return e.Field + ": " + e.message
}
