package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/raid/internal/history"
	"github.com/moolen/raid/internal/ui"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name         string
		fallback     string
		flags        []string
		env          map[string]string
		wantDefault  string
		wantPackages map[string]string
		wantErr      bool
	}{
		{
			name:         "fallback only",
			fallback:     "warn",
			wantDefault:  "warn",
			wantPackages: map[string]string{},
		},
		{
			name:         "empty fallback is info",
			wantDefault:  "info",
			wantPackages: map[string]string{},
		},
		{
			name:         "bare flag sets default",
			fallback:     "info",
			flags:        []string{"debug"},
			wantDefault:  "debug",
			wantPackages: map[string]string{},
		},
		{
			name:         "package levels",
			fallback:     "info",
			flags:        []string{"default=error", "session=debug", "tools=warn"},
			wantDefault:  "error",
			wantPackages: map[string]string{"session": "debug", "tools": "warn"},
		},
		{
			name:         "env var per package",
			fallback:     "info",
			env:          map[string]string{"LOG_LEVEL_MCP_HTTP": "debug"},
			wantDefault:  "info",
			wantPackages: map[string]string{"mcp.http": "debug"},
		},
		{
			name:         "flag wins over env",
			fallback:     "info",
			flags:        []string{"history=error"},
			env:          map[string]string{"LOG_LEVEL_HISTORY": "debug"},
			wantDefault:  "info",
			wantPackages: map[string]string{"history": "error"},
		},
		{
			name:     "invalid default",
			fallback: "info",
			flags:    []string{"verbose"},
			wantErr:  true,
		},
		{
			name:     "invalid package level",
			fallback: "info",
			flags:    []string{"session=loud"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			def, pkgs, err := parseLogLevelFlags(tt.fallback, tt.flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, def)
			for pkg, level := range tt.wantPackages {
				assert.Equal(t, level, pkgs[pkg], "package %s", pkg)
			}
		})
	}
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "session", convertEnvKeyToPackageName("LOG_LEVEL_SESSION"))
	assert.Equal(t, "knownissues.watcher", convertEnvKeyToPackageName("LOG_LEVEL_KNOWNISSUES_WATCHER"))
}

func TestValidateLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "fatal", "DEBUG"} {
		assert.NoError(t, validateLogLevel(level), level)
	}
	assert.Error(t, validateLogLevel("trace"))
}

func TestCheckPrompt(t *testing.T) {
	for _, c := range checkComponents {
		p, err := checkPrompt(c)
		require.NoError(t, err, c)
		assert.NotEmpty(t, p)
	}
	_, err := checkPrompt("gpu")
	assert.ErrorContains(t, err, "unknown component")
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestAsk(t *testing.T) {
	var out bytes.Buffer
	answer, ok := ask(bufioReader("  production \n"), &out, "> ")
	assert.True(t, ok)
	assert.Equal(t, "production", answer)
	assert.Equal(t, "> ", out.String())

	for _, in := range []string{"", "\n", "quit\n", "EXIT\n"} {
		_, ok := ask(bufioReader(in), &out, "> ")
		assert.False(t, ok, "%q", in)
	}

	// A last line without newline still counts.
	answer, ok = ask(bufioReader("yes"), &out, "> ")
	assert.True(t, ok)
	assert.True(t, isYes(answer))
	assert.False(t, isYes("nope"))
}

func TestReadProblem(t *testing.T) {
	var out bytes.Buffer
	p, err := readProblem([]string{"disk", "is", "full"}, "ignored", bufioReader(""), &out)
	require.NoError(t, err)
	assert.Equal(t, "disk is full", p)

	p, err = readProblem(nil, " from flag ", bufioReader(""), &out)
	require.NoError(t, err)
	assert.Equal(t, "from flag", p)

	p, err = readProblem(nil, "", bufioReader("from stdin\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", p)

	_, err = readProblem(nil, "", bufioReader(""), &out)
	assert.Error(t, err)
}

const askScenario = `name: ask-then-check
tool_responses:
  kubectl_get_pods:
    success: true
    output: "web-0   0/1   OOMKilled   7   1h"
steps:
  - reply: "ASK: Which namespace is affected?"
  - trigger: production
    reply: "CALL_TOOL: kubectl_get_pods --namespace production"
  - reply: "COMPLETE: The web pod in production is OOMKilled."
`

const limitScenario = `name: budget
steps:
  - reply: "CALL_TOOL: free"
  - reply: "COMPLETE: Memory is fine."
`

// testEnv writes a configuration with a scripted provider and an isolated
// history database.
func testEnv(t *testing.T, scenario string) string {
	t.Helper()
	dir := t.TempDir()
	for _, env := range []string{"AI_PROVIDER", "AI_SCENARIO", "AI_API_KEY", "RAID_DATABASE", "RAID_MAX_TOOL_CALLS", "RAID_AUDIT_LOG", "RAID_LOG_LEVEL"} {
		t.Setenv(env, "")
	}

	cfg := "ai:\n  provider: scripted\n"
	if scenario != "" {
		path := filepath.Join(dir, "scenario.yaml")
		require.NoError(t, os.WriteFile(path, []byte(scenario), 0o600))
		cfg += "  scenario: " + path + "\n"
	}
	cfg += "agent:\n  continue_increment: 5\n" +
		"database:\n  path: " + filepath.Join(dir, "raid.db") + "\n" +
		"output:\n  color: false\n  progress: false\n" +
		"logging:\n  level: error\n"

	path := filepath.Join(dir, "raid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func resetFlags() {
	configPath, logLevelFlags = "", nil
	providerFlag, modelFlag, apiKeyFlag, baseURLFlag, outputFlag = "", "", "", "", ""
	verboseFlag, dryRunFlag = false, false
	agentMaxToolCalls, agentPrompt, agentResume, agentAuditLog, agentNoBaseline = 0, "", "", "", false
	askMaxToolCalls, askBaseline = askDefaultBudget, false
	checkMaxToolCalls, checkNoBaseline = 0, false
	debugNamespace, debugPod, debugService, debugLines = "", "", "", 0
	issuesCategory = ""
	historyLimit, cleanupDays = 20, 0
	configInitForce = false

	var clear func(c *cobra.Command)
	clear = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) { f.Changed = false }
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			clear(sub)
		}
	}
	clear(rootCmd)
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigShowAppliesFlags(t *testing.T) {
	cfg := testEnv(t, "")
	out, err := run(t, "", "--config", cfg, "--provider", "anthropic", "--model", "claude-test", "--api-key", "secret", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: anthropic")
	assert.Contains(t, out, "model: claude-test")
	assert.NotContains(t, out, "secret")

	out, err = run(t, "", "--config", cfg, "--dry-run", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: scripted")
}

func TestConfigValidateRejectsBadOutput(t *testing.T) {
	cfg := testEnv(t, "")
	_, err := run(t, "", "--config", cfg, "--output", "xml", "config", "validate")
	assert.ErrorContains(t, err, "output.format")

	out, err := run(t, "", "--config", cfg, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raid.yaml")
	_, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = run(t, "", "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "", "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestDryRunAskJSON(t *testing.T) {
	cfg := testEnv(t, "")
	out, err := run(t, "", "--config", cfg, "--output", "json", "ask", "the web pod keeps crashing")
	require.NoError(t, err)

	var res ui.ResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.Result)
	assert.Contains(t, res.Detail, "OOMKilled")
	assert.Equal(t, 3, res.ToolCallsUsed)
	assert.Equal(t, askDefaultBudget, res.ToolCallBudget)

	out, err = run(t, "", "--config", cfg, "--output", "json", "history", "sessions")
	require.NoError(t, err)
	var sessions []history.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].ID)
	assert.Equal(t, "the web pod keeps crashing", sessions[0].Problem)
}

func TestAgentAnswersQuestion(t *testing.T) {
	cfg := testEnv(t, askScenario)
	out, err := run(t, "production\n", "--config", cfg, "agent", "--no-baseline", "pods are failing")
	require.NoError(t, err)
	assert.Contains(t, out, "Which namespace is affected?")
	assert.Contains(t, out, "kubectl get pods --output=wide -n production")
	assert.Contains(t, out, "The web pod in production is OOMKilled.")
	assert.Contains(t, out, "Investigation complete (1/10 tool calls)")
}

var resumeHint = regexp.MustCompile(`raid agent --resume (\S+)`)

func TestAgentLimitAndResume(t *testing.T) {
	cfg := testEnv(t, limitScenario)
	out, err := run(t, "n\n", "--config", cfg, "agent", "--no-baseline", "--max-tool-calls", "1", "is memory ok?")
	require.NoError(t, err)
	assert.Contains(t, out, "Tool call limit reached")

	m := resumeHint.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	out, err = run(t, "", "--config", cfg, "--output", "json", "history", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "paused_for_limit"`)

	// The fresh scripted provider replays its steps from the start.
	out, err = run(t, "", "--config", cfg, "agent", "--resume", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Memory is fine.")
	assert.Contains(t, out, "Investigation complete (2/6 tool calls)")
}

func TestAgentQuitLeavesSessionPaused(t *testing.T) {
	cfg := testEnv(t, askScenario)
	out, err := run(t, "", "--config", cfg, "agent", "--no-baseline", "pods are failing")
	require.NoError(t, err)
	m := resumeHint.FindStringSubmatch(out)
	require.Len(t, m, 2, out)

	out, err = run(t, "", "--config", cfg, "--output", "json", "history", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "paused_for_input"`)
}

func TestDebugCommands(t *testing.T) {
	cfg := testEnv(t, "")
	out, err := run(t, "", "--config", cfg, "debug", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "kubectl_get_pods")
	assert.Contains(t, out, "static")

	out, err = run(t, "", "--config", cfg, "debug", "free")
	require.NoError(t, err)
	assert.Contains(t, out, "$ free -h")
	assert.Contains(t, out, "Mem:")

	_, err = run(t, "", "--config", cfg, "debug", "rm_rf")
	assert.ErrorContains(t, err, "unknown tool")

	_, err = run(t, "", "--config", cfg, "debug", "kubectl_logs")
	assert.ErrorContains(t, err, "failed")
}

func TestIssuesCommands(t *testing.T) {
	cfg := testEnv(t, "")
	out, err := run(t, "", "--config", cfg, "--output", "json", "issues", "list", "--category", "kubernetes")
	require.NoError(t, err)
	var issues []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &issues))
	require.NotEmpty(t, issues)
	for _, issue := range issues {
		assert.Equal(t, "kubernetes", issue["category"])
	}

	_, err = run(t, "", "--config", cfg, "issues", "list", "--category", "bogus")
	assert.ErrorContains(t, err, "unknown category")

	out, err = run(t, "", "--config", cfg, "issues", "match", "container", "OOMKilled", "exit", "code", "137")
	require.NoError(t, err)
	assert.Contains(t, out, "CONFIDENCE")
}

func TestCheckRejectsUnknownComponent(t *testing.T) {
	cfg := testEnv(t, "")
	_, err := run(t, "", "--config", cfg, "check", "gpu")
	assert.ErrorContains(t, err, "unknown component")
}

func TestMCPRejectsUnknownTransport(t *testing.T) {
	cfg := testEnv(t, "")
	_, err := run(t, "", "--config", cfg, "mcp", "--transport", "websocket")
	assert.ErrorContains(t, err, "invalid transport")
}
