package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crashloopScenario = `
name: crashloop
description: Pod restarting because of a bad config map
settings:
  tool_delay_ms: 5
tool_responses:
  kubectl_get_pods:
    success: true
    output: "api-7d9 0/1 CrashLoopBackOff 12 30m"
steps:
  - reply: "CALL_TOOL: kubectl_get_pods --namespace prod"
  - trigger: "contains:CrashLoopBackOff"
    reply: "COMPLETE: The api pod is crash looping."
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(crashloopScenario))
	require.NoError(t, err)
	assert.Equal(t, "crashloop", s.Name)
	assert.Len(t, s.Steps, 2)
	assert.Equal(t, 5*time.Millisecond, s.ToolDelay())
	assert.True(t, s.ToolResponses["kubectl_get_pods"].Success)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name": "steps:\n  - reply: x\n",
		"no steps":     "name: a\n",
		"empty reply":  "name: a\nsteps:\n  - trigger: x\n",
		"invalid yaml": "name: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestScriptedProvider_Triggers(t *testing.T) {
	s, err := ParseScenario([]byte(crashloopScenario))
	require.NoError(t, err)
	p := NewScenarioProvider(s)
	ctx := context.Background()

	reply, err := p.Complete(ctx, "SYSTEM: ...")
	require.NoError(t, err)
	assert.Equal(t, "CALL_TOOL: kubectl_get_pods --namespace prod", reply)

	// Trigger not yet satisfied.
	reply, err = p.Complete(ctx, "no pods yet")
	require.NoError(t, err)
	assert.Equal(t, WaitingReply, reply)

	reply, err = p.Complete(ctx, "TOOL: api-7d9 0/1 CrashLoopBackOff")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE: The api pod is crash looping.", reply)

	_, err = p.Complete(ctx, "again")
	assert.Equal(t, ErrorCodeEmptyResponse, CodeOf(err))
	assert.Len(t, p.Prompts(), 4)
}

func TestScriptedProvider_UnmetTriggerFails(t *testing.T) {
	p := NewScenarioProvider(&Scenario{Name: "typo", Steps: []ScenarioStep{
		{Trigger: "contains:CrashLoopBackof", Reply: "COMPLETE: never"},
	}})
	ctx := context.Background()

	for i := 0; i < MaxWaits; i++ {
		reply, err := p.Complete(ctx, "api-7d9 0/1 CrashLoopBackOff")
		require.NoError(t, err)
		assert.Equal(t, WaitingReply, reply)
	}
	_, err := p.Complete(ctx, "api-7d9 0/1 CrashLoopBackOff")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeEmptyResponse, CodeOf(err))
	assert.Contains(t, err.Error(), `"CrashLoopBackof"`)
}

func TestScriptedProvider_WaitsResetOnProgress(t *testing.T) {
	p := NewScenarioProvider(&Scenario{Name: "slow", Steps: []ScenarioStep{
		{Trigger: "one", Reply: "ANALYZE: 1"},
		{Trigger: "two", Reply: "COMPLETE: 2"},
	}})
	ctx := context.Background()

	for i := 0; i < MaxWaits; i++ {
		_, err := p.Complete(ctx, "nothing")
		require.NoError(t, err)
	}
	reply, err := p.Complete(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "ANALYZE: 1", reply)

	for i := 0; i < MaxWaits; i++ {
		reply, err = p.Complete(ctx, "one")
		require.NoError(t, err)
		assert.Equal(t, WaitingReply, reply)
	}
	reply, err = p.Complete(ctx, "one two")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE: 2", reply)
}

func TestScriptedProvider_Inline(t *testing.T) {
	p := NewScriptedProvider("ANALYZE: a", "COMPLETE: b")
	assert.Equal(t, NameScripted, p.Name())
	assert.Equal(t, "inline", p.Model())

	r1, _ := p.Complete(context.Background(), "")
	r2, _ := p.Complete(context.Background(), "")
	assert.Equal(t, []string{"ANALYZE: a", "COMPLETE: b"}, []string{r1, r2})
}

func TestScriptedProvider_DelayHonorsContext(t *testing.T) {
	p := NewScenarioProvider(&Scenario{Name: "slow", Steps: []ScenarioStep{{Reply: "x", DelayMs: 5000}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Complete(ctx, "")
	assert.Equal(t, ErrorCodeCanceled, CodeOf(err))
}

func TestNewScriptedProviderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(crashloopScenario), 0o600))

	p, err := NewScriptedProviderFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "crashloop", p.Scenario().Name)

	_, err = NewScriptedProviderFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ErrorCodeConfig, CodeOf(err))
}
