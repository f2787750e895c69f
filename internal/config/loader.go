package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FileName is the configuration file looked up in the search path.
const FileName = "raid.yaml"

// envOverrides maps environment variables onto configuration keys. They
// are applied after the file.
var envOverrides = []struct {
	env string
	key string
}{
	{"AI_PROVIDER", "ai.provider"},
	{"AI_API_KEY", "ai.api_key"},
	{"AI_MODEL", "ai.model"},
	{"AI_BASE_URL", "ai.base_url"},
	{"AI_MAX_TOKENS", "ai.max_tokens"},
	{"AI_TEMPERATURE", "ai.temperature"},
	{"AI_TIMEOUT", "ai.timeout"},
	{"AI_MAX_RETRIES", "ai.max_retries"},
	{"AI_REQUESTS_PER_MINUTE", "ai.requests_per_minute"},
	{"AI_SCENARIO", "ai.scenario"},
	{"RAID_MAX_TOOL_CALLS", "agent.max_tool_calls"},
	{"RAID_AUDIT_LOG", "agent.audit_log"},
	{"RAID_DATABASE", "database.path"},
	{"RAID_LOG_LEVEL", "logging.level"},
	{"KUBECONFIG", "tools.kubeconfig"},
}

// providerKeyEnv lists the vendor variables consulted when no API key is
// configured.
var providerKeyEnv = map[string]string{
	"openai":        "OPENAI_API_KEY",
	"anthropic":     "ANTHROPIC_API_KEY",
	"gemini":        "GEMINI_API_KEY",
	"azure-foundry": "AZURE_FOUNDRY_API_KEY",
}

// SearchPaths returns the locations probed for FileName, in order.
func SearchPaths() []string {
	paths := []string{FileName}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "raid", FileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "raid", FileName))
	}
	return append(paths, filepath.Join("/etc/raid", FileName))
}

// Resolve returns the file to load. An explicit path must exist. Without
// one the first existing search path wins; "" means no file was found.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %q: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load resolves and loads the configuration: defaults, then the file (if
// any), then environment variables. It returns the file used.
func Load(explicit string) (*Config, string, error) {
	path, err := Resolve(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// LoadFile loads defaults, the given file and environment overrides. An
// empty path skips the file.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			if err := k.Set(o.key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", o.env, err)
			}
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if cfg.AI.APIKey == "" {
		if env, ok := providerKeyEnv[cfg.AI.Provider]; ok {
			cfg.AI.APIKey = os.Getenv(env)
		}
	}
	return cfg, nil
}
