package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, o := range envOverrides {
		t.Setenv(o.env, "")
	}
	for _, env := range providerKeyEnv {
		t.Setenv(env, "")
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "raid.yaml", `ai:
  provider: anthropic
  model: claude-3-5-haiku-latest
  timeout: 45s
agent:
  max_tool_calls: 4
tools:
  cache_ttl: 0s
logging:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.AI.Model)
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 4, cfg.Agent.MaxToolCalls)
	assert.Equal(t, time.Duration(0), cfg.Tools.CacheTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.AI.MaxTokens)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, "raid.db", cfg.Database.Path)
	assert.True(t, cfg.Output.Color)
}

func TestLoadFileEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "raid.yaml", "ai:\n  provider: openai\n  max_tokens: 500\n")

	t.Setenv("AI_PROVIDER", "local")
	t.Setenv("AI_MAX_TOKENS", "2000")
	t.Setenv("AI_TIMEOUT", "1m")
	t.Setenv("RAID_MAX_TOOL_CALLS", "3")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.AI.Provider)
	assert.Equal(t, 2000, cfg.AI.MaxTokens)
	assert.Equal(t, time.Minute, cfg.AI.Timeout)
	assert.Equal(t, 3, cfg.Agent.MaxToolCalls)
}

func TestLoadFileProviderKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", cfg.AI.APIKey)

	t.Setenv("AI_API_KEY", "sk-explicit")
	cfg, err = LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.AI.APIKey)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "ai: [unclosed")
	_, err = LoadFile(bad)
	assert.Error(t, err)

	wrongType := writeFile(t, dir, "type.yaml", "agent:\n  max_tool_calls: many\n")
	_, err = LoadFile(wrongType)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	path, err := Resolve("")
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "xdg", "raid"), 0o750))
	xdg := writeFile(t, filepath.Join(dir, "xdg", "raid"), FileName, "")
	path, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, xdg, path)

	writeFile(t, dir, FileName, "")
	path, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, FileName, path)

	_, err = Resolve(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, []string{"raid.yaml", "/xdg/raid/raid.yaml", "/etc/raid/raid.yaml"}, SearchPaths())
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "custom.yaml", "output:\n  format: json\n")
	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "json", cfg.Output.Format)
}
