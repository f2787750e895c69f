package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/provider"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/agent/transcript"
)

// stubProvider replays replies in order and repeats the last one forever.
type stubProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func newStub(replies ...string) *stubProvider {
	return &stubProvider{replies: replies}
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) Complete(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	idx := len(p.prompts) - 1
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	return p.replies[idx], nil
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func (p *stubProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[len(p.prompts)-1]
}

// recordingExecutor records calls and returns a fixed outcome.
type recordingExecutor struct {
	calls []tools.ID
	fail  bool
}

func (e *recordingExecutor) Run(_ context.Context, id tools.ID, args tools.Args) tools.Result {
	e.calls = append(e.calls, id)
	res := tools.Result{
		ToolName:        string(id),
		Command:         tools.CommandString(id, args),
		Success:         !e.fail,
		ExecutionTimeMs: 3,
	}
	if e.fail {
		res.Error = "exit status 1: boom"
	} else {
		res.Output = "api-7d9   0/1   CrashLoopBackOff   12"
	}
	return res
}

func newSession(p provider.Provider, exec dispatch.Executor, budget int, opts ...Option) *Session {
	return New(p, dispatch.New(exec), Config{Budget: budget}, opts...)
}

func roles(msgs []transcript.Message) []transcript.Role {
	out := make([]transcript.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestRun_ToolThenComplete(t *testing.T) {
	p := newStub("CALL_TOOL: kubectl_get_pods --namespace default", "COMPLETE: memory limit too low")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "pod X crash looping", "OS: linux")

	assert.Equal(t, Success{FinalAnalysis: "memory limit too low", ToolCallsUsed: 1}, res)
	assert.Equal(t, StateSucceeded, s.State())
	assert.Equal(t, []tools.ID{tools.KubectlGetPods}, exec.calls)
	assert.Equal(t, 2, p.calls())

	msgs := s.Transcript()
	assert.Equal(t, []transcript.Role{
		transcript.RoleSystem, transcript.RoleUser, transcript.RoleTool, transcript.RoleAssistant,
	}, roles(msgs))
	assert.Equal(t, "pod X crash looping", msgs[1].Content)
	assert.Contains(t, msgs[2].Content, "kubectl get pods --output=wide -n default")
	assert.Equal(t, "memory limit too low", msgs[3].Content)
}

func TestRun_LimitReachedWithoutExtraProviderCall(t *testing.T) {
	p := newStub("CALL_TOOL: kubectl_get_pods")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 3)

	res := s.Run(context.Background(), "cluster is slow", "")

	limit, ok := res.(LimitReached)
	require.True(t, ok, "expected LimitReached, got %#v", res)
	assert.Equal(t, 3, limit.ToolCallsUsed)
	assert.Equal(t, LimitAdvisory, limit.PartialAnalysis)
	assert.Equal(t, 3, p.calls())
	assert.Len(t, exec.calls, 3)
	assert.Equal(t, StatePausedForLimit, s.State())
}

func TestRun_AskThenContinueWithInput(t *testing.T) {
	p := newStub("ASK: what namespace?", "COMPLETE: fixed")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "my pod is broken", "")
	assert.Equal(t, PausedForUserInput{Reason: "what namespace?", ToolCallsUsed: 0}, res)
	assert.Equal(t, StatePausedForInput, s.State())
	before := len(s.Transcript())

	res = s.ContinueWithInput(context.Background(), "default")
	assert.Equal(t, Success{FinalAnalysis: "fixed", ToolCallsUsed: 0}, res)

	msgs := s.Transcript()
	require.Greater(t, len(msgs), before)
	assert.Equal(t, transcript.User("default"), msgs[before])
	assert.Contains(t, p.lastPrompt(), "USER: default\n\n")
}

func TestRun_CompletionOverridesToolCall(t *testing.T) {
	p := newStub("CALL_TOOL: df\nCOMPLETE: the root volume is full")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "writes fail", "")

	assert.Equal(t, Success{FinalAnalysis: "the root volume is full", ToolCallsUsed: 1}, res)
	assert.Equal(t, []tools.ID{tools.Df}, exec.calls)
	assert.Equal(t, 1, p.calls())
}

func TestRun_CompletionOverridesPause(t *testing.T) {
	tests := []string{
		"ASK: anything else?\nCOMPLETE: done",
		"COMPLETE: could you restart the pod",
	}
	for _, reply := range tests {
		t.Run(reply, func(t *testing.T) {
			s := newSession(newStub(reply), &recordingExecutor{}, 10)
			res := s.Run(context.Background(), "p", "")
			_, ok := res.(Success)
			assert.True(t, ok, "expected Success, got %#v", res)
		})
	}
}

func TestRun_FailedToolsStillConsumeBudget(t *testing.T) {
	p := newStub("CALL_TOOL: free", "CALL_TOOL: uptime", "CALL_TOOL: df", "COMPLETE: nothing conclusive")
	exec := &recordingExecutor{fail: true}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "box is sluggish", "")

	assert.Equal(t, 3, res.Used())
	msgs := s.Transcript()
	toolMsgs := 0
	for _, m := range msgs {
		if m.Role == transcript.RoleTool {
			toolMsgs++
			assert.Contains(t, m.Content, "Status: failed")
			assert.Contains(t, m.Content, "boom")
		}
	}
	assert.Equal(t, 3, toolMsgs)
}

func TestRun_MissingArgumentNeverReachesExecutor(t *testing.T) {
	p := newStub("CALL_TOOL: kubectl_logs --namespace prod", "COMPLETE: need the pod name")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "logs please", "")

	assert.Equal(t, 1, res.Used())
	assert.Empty(t, exec.calls)
	msgs := s.Transcript()
	assert.Contains(t, msgs[2].Content, "requires --pod")
	assert.Contains(t, msgs[2].Content, "Status: failed")
}

func TestRun_UnknownToolIsFedBack(t *testing.T) {
	p := newStub("CALL_TOOL: kubectl_delete_everything", "COMPLETE: ok")
	exec := &recordingExecutor{}
	s := newSession(p, exec, 10)

	res := s.Run(context.Background(), "p", "")

	assert.Equal(t, Success{FinalAnalysis: "ok", ToolCallsUsed: 0}, res)
	assert.Empty(t, exec.calls)
	assert.Contains(t, p.lastPrompt(), "ASSISTANT: Unknown tool requested: kubectl_delete_everything")
}

func TestRun_ClarificationHeuristic(t *testing.T) {
	t.Run("clarifying analysis pauses", func(t *testing.T) {
		s := newSession(newStub("ANALYZE: Could You share the pod name?"), &recordingExecutor{}, 10)
		res := s.Run(context.Background(), "p", "")
		assert.Equal(t, PausedForUserInput{Reason: "Could You share the pod name?"}, res)
		// Not recorded as an assistant message.
		assert.Len(t, s.Transcript(), 2)
	})

	t.Run("plain analysis continues", func(t *testing.T) {
		p := newStub("ANALYZE: memory pressure on node-1", "COMPLETE: add memory")
		s := newSession(p, &recordingExecutor{}, 10)
		res := s.Run(context.Background(), "p", "")
		assert.Equal(t, Success{FinalAnalysis: "add memory"}, res)
		assert.Equal(t, 2, p.calls())
		assert.Equal(t, transcript.Assistant("memory pressure on node-1"), s.Transcript()[2])
	})

	t.Run("unmarked reply is analysis", func(t *testing.T) {
		p := newStub("Looking at the evidence so far.", "COMPLETE: done")
		s := newSession(p, &recordingExecutor{}, 10)
		s.Run(context.Background(), "p", "")
		assert.Equal(t, transcript.Assistant("Looking at the evidence so far."), s.Transcript()[2])
	})
}

func TestContinueAfterLimit(t *testing.T) {
	p := newStub("CALL_TOOL: uptime", "CALL_TOOL: uptime", "CALL_TOOL: free", "COMPLETE: load is fine")
	exec := &recordingExecutor{}
	s := New(p, dispatch.New(exec), Config{Budget: 2, ContinueIncrement: 3})

	res := s.Run(context.Background(), "p", "")
	require.IsType(t, LimitReached{}, res)
	assert.Equal(t, 2, p.calls())

	res = s.ContinueAfterLimit(context.Background())
	assert.Equal(t, Success{FinalAnalysis: "load is fine", ToolCallsUsed: 3}, res)
	assert.Len(t, exec.calls, 3)
	assert.Equal(t, 5, s.Stats().Budget)
}

func TestContinueAfterLimit_DefaultIncrement(t *testing.T) {
	p := newStub("CALL_TOOL: uptime")
	s := newSession(p, &recordingExecutor{}, 2)

	s.Run(context.Background(), "p", "")
	res := s.ContinueAfterLimit(context.Background())

	assert.Equal(t, LimitReached{PartialAnalysis: LimitAdvisory, ToolCallsUsed: 4}, res)
	assert.Equal(t, 4, s.Stats().Budget)
	assert.Equal(t, 4, p.calls())
}

func TestProviderFailure(t *testing.T) {
	p := newStub("unused")
	p.err = &provider.Error{Provider: "stub", Code: provider.ErrorCodeAuth, Message: "authentication failed"}
	s := newSession(p, &recordingExecutor{}, 10)

	res := s.Run(context.Background(), "p", "")

	failed, ok := res.(Failed)
	require.True(t, ok)
	assert.Equal(t, provider.ErrorCodeAuth, provider.CodeOf(failed.Cause))
	assert.Contains(t, failed.Cause.Error(), "authentication failed")
	assert.Equal(t, StateFailed, s.State())
}

func TestRun_UnmetScenarioTriggerFails(t *testing.T) {
	p := provider.NewScenarioProvider(&provider.Scenario{Name: "typo", Steps: []provider.ScenarioStep{
		{Trigger: "never-appears", Reply: "COMPLETE: done"},
	}})
	s := newSession(p, &recordingExecutor{}, 3)

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background(), "pod X crash looping", "") }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	failed, ok := res.(Failed)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, provider.ErrorCodeEmptyResponse, provider.CodeOf(failed.Cause))
	assert.Contains(t, failed.Cause.Error(), "never-appears")
	assert.Len(t, p.Prompts(), provider.MaxWaits+1)
	assert.Equal(t, 0, failed.ToolCallsUsed)
	assert.Equal(t, StateFailed, s.State())
}

func TestInvalidStateLeavesSessionUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		op    func(s *Session) Result
	}{
		{
			name:  "continue with input while paused for limit",
			setup: []string{"CALL_TOOL: uptime"},
			op:    func(s *Session) Result { return s.ContinueWithInput(context.Background(), "hi") },
		},
		{
			name:  "continue after limit while paused for input",
			setup: []string{"ASK: which node?"},
			op:    func(s *Session) Result { return s.ContinueAfterLimit(context.Background()) },
		},
		{
			name:  "continue after success",
			setup: []string{"COMPLETE: done"},
			op:    func(s *Session) Result { return s.ContinueWithInput(context.Background(), "more") },
		},
		{
			name:  "run twice",
			setup: []string{"ASK: which node?"},
			op:    func(s *Session) Result { return s.Run(context.Background(), "again", "") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStub(tt.setup...)
			s := newSession(p, &recordingExecutor{}, 1)
			s.Run(context.Background(), "p", "")

			before := s.Snapshot()
			calls := p.calls()

			res := tt.op(s)

			failed, ok := res.(Failed)
			require.True(t, ok, "expected Failed, got %#v", res)
			assert.True(t, errors.Is(failed.Cause, ErrInvalidState))
			assert.Equal(t, before, s.Snapshot())
			assert.Equal(t, calls, p.calls())
		})
	}
}

type upperEnricher struct{}

func (upperEnricher) Enrich(text string) string {
	return text + "\n\nKNOWN ISSUES THAT MAY BE RELEVANT:\n- Pod CrashLoopBackOff"
}

func TestEnricherAppliesToProblemOnly(t *testing.T) {
	p := newStub("ASK: which pod?", "COMPLETE: ok")
	s := newSession(p, &recordingExecutor{}, 10, WithEnricher(upperEnricher{}))

	s.Run(context.Background(), "pod restarting", "")
	s.ContinueWithInput(context.Background(), "api-7d9")

	msgs := s.Transcript()
	assert.Contains(t, msgs[1].Content, "KNOWN ISSUES THAT MAY BE RELEVANT")
	assert.Equal(t, "api-7d9", msgs[2].Content)
	assert.Equal(t, "pod restarting", s.Problem())
}

func TestPromptCarriesFooterButTranscriptDoesNot(t *testing.T) {
	p := newStub("CALL_TOOL: uptime", "COMPLETE: ok")
	s := newSession(p, &recordingExecutor{}, 10)

	s.Run(context.Background(), "p", "Hostname: web-1")

	assert.True(t, strings.HasPrefix(p.prompts[0], "SYSTEM: "))
	assert.Contains(t, p.prompts[0], "Hostname: web-1")
	assert.Contains(t, p.prompts[0], "Tool calls used: 0/10")
	assert.Contains(t, p.prompts[1], "Tool calls used: 1/10")
	for _, m := range s.Transcript() {
		assert.NotContains(t, m.Content, "Tool calls used:")
	}
}

func TestSummary(t *testing.T) {
	s := newSession(newStub("CALL_TOOL: uptime", "COMPLETE: ok"), &recordingExecutor{}, 4, WithID("abc"))
	s.Run(context.Background(), "p", "")

	assert.Equal(t, "Session abc: 4 messages, 1/4 tool calls used, state succeeded", s.Summary())
	assert.Equal(t, Stats{State: StateSucceeded, Messages: 4, Used: 1, Budget: 4}, s.Stats())
}

func TestSnapshotRestore(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newStub("CALL_TOOL: uptime", "ASK: which service?")
	s := newSession(p, &recordingExecutor{}, 5, WithClock(func() time.Time { return fixed }))
	s.Run(context.Background(), "service down", "")

	snap := s.Snapshot()
	assert.Equal(t, StatePausedForInput, snap.State)
	assert.Equal(t, 1, snap.ToolCallsUsed)
	assert.Equal(t, fixed, snap.CreatedAt)

	p2 := newStub("COMPLETE: nginx was stopped")
	restored, err := Restore(snap, p2, dispatch.New(&recordingExecutor{}), Config{Budget: 5})
	require.NoError(t, err)
	assert.Equal(t, snap.ID, restored.ID())
	assert.Equal(t, snap.Messages, restored.Transcript())

	res := restored.ContinueWithInput(context.Background(), "nginx")
	assert.Equal(t, Success{FinalAnalysis: "nginx was stopped", ToolCallsUsed: 1}, res)
}

func TestRestore(t *testing.T) {
	p := newStub("COMPLETE: ok")
	table := dispatch.New(&recordingExecutor{})

	running, err := Restore(Snapshot{ID: "a", State: StateRunning, ToolCallBudget: 3}, p, table, Config{})
	require.NoError(t, err)
	assert.Equal(t, StatePausedForInput, running.State())
	assert.Equal(t, 3, running.Stats().Budget)

	_, err = Restore(Snapshot{State: StateIdle}, p, table, Config{})
	assert.Error(t, err)

	_, err = Restore(Snapshot{ID: "b", State: "sleeping"}, p, table, Config{})
	assert.Error(t, err)

	_, err = Restore(Snapshot{ID: "c", State: StateIdle, Messages: []transcript.Message{{Role: "robot"}}}, p, table, Config{})
	assert.Error(t, err)
}

func TestRestore_KeepsContinueIncrement(t *testing.T) {
	table := dispatch.New(&recordingExecutor{})
	s := New(newStub("CALL_TOOL: uptime"), table, Config{Budget: 10})

	s.Run(context.Background(), "p", "")
	res := s.ContinueAfterLimit(context.Background())
	require.IsType(t, LimitReached{}, res)

	snap := s.Snapshot()
	assert.Equal(t, 20, snap.ToolCallBudget)
	assert.Equal(t, 10, snap.ContinueIncrement)

	restored, err := Restore(snap, newStub("CALL_TOOL: uptime"), table, Config{Budget: snap.ToolCallBudget})
	require.NoError(t, err)
	assert.Equal(t, 10, restored.ContinueIncrement())

	res = restored.ContinueAfterLimit(context.Background())
	assert.Equal(t, LimitReached{PartialAnalysis: LimitAdvisory, ToolCallsUsed: 30}, res)
	assert.Equal(t, 30, restored.Stats().Budget, "a restored session raises the budget like the live one")
}

func TestRestore_IncrementFallsBackToConfig(t *testing.T) {
	snap := Snapshot{ID: "old", State: StatePausedForLimit, ToolCallsUsed: 20, ToolCallBudget: 20}

	restored, err := Restore(snap, newStub("COMPLETE: ok"), dispatch.New(&recordingExecutor{}), Config{Budget: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, restored.ContinueIncrement())
	assert.Equal(t, 20, restored.Stats().Budget)

	_, err = Restore(Snapshot{ID: "bad", State: StateIdle, ContinueIncrement: -1}, newStub("x"), dispatch.New(&recordingExecutor{}), Config{})
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	s := New(newStub("COMPLETE: ok"), dispatch.New(&recordingExecutor{}), Config{})
	assert.Equal(t, DefaultBudget, s.Stats().Budget)
	assert.Equal(t, StateIdle, s.State())
	assert.NotEmpty(t, s.ID())
}
