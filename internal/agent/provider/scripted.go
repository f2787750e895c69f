package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted conversation loaded from YAML. It drives the
// scripted backend for demos and end-to-end tests without a live model.
type Scenario struct {
	// Name is the scenario identifier.
	Name string `yaml:"name"`

	// Description is a human-readable description of what the scenario shows.
	Description string `yaml:"description,omitempty"`

	// Settings contains global timing settings.
	Settings ScenarioSettings `yaml:"settings,omitempty"`

	// ToolResponses defines canned tool output keyed by tool name.
	ToolResponses map[string]ScriptedToolResponse `yaml:"tool_responses,omitempty"`

	// Steps defines the sequence of replies.
	Steps []ScenarioStep `yaml:"steps"`
}

// ScenarioSettings contains global timing settings.
type ScenarioSettings struct {
	// ThinkingDelayMs is the delay before each reply.
	ThinkingDelayMs int `yaml:"thinking_delay_ms,omitempty"`

	// ToolDelayMs is the delay applied to canned tool responses.
	ToolDelayMs int `yaml:"tool_delay_ms,omitempty"`
}

// ScenarioStep is one scripted reply.
type ScenarioStep struct {
	// Trigger, when set, must appear in the prompt for the step to fire.
	// "contains:" prefixes are accepted and stripped.
	Trigger string `yaml:"trigger,omitempty"`

	// Reply is the raw model text.
	Reply string `yaml:"reply"`

	// DelayMs overrides the thinking delay for this step.
	DelayMs int `yaml:"delay_ms,omitempty"`
}

// ScriptedToolResponse is canned output for a tool.
type ScriptedToolResponse struct {
	Success bool   `yaml:"success"`
	Output  string `yaml:"output,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// WaitingReply is returned while the next step's trigger is not satisfied.
const WaitingReply = "ANALYZE: Waiting for more information before continuing."

// MaxWaits is the number of consecutive calls that may answer WaitingReply
// for the same step. The next call fails with ErrorCodeEmptyResponse.
const MaxWaits = 3

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	// #nosec G304 -- scenario path is intentionally user-provided
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Validate checks that the scenario is usable.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario must have at least one step")
	}
	for i, step := range s.Steps {
		if strings.TrimSpace(step.Reply) == "" {
			return fmt.Errorf("step[%d]: reply is required", i)
		}
	}
	return nil
}

// ToolDelay returns the configured delay for canned tool responses.
func (s *Scenario) ToolDelay() time.Duration {
	return time.Duration(s.Settings.ToolDelayMs) * time.Millisecond
}

func (s *Scenario) thinkingDelay(step ScenarioStep) time.Duration {
	if step.DelayMs > 0 {
		return time.Duration(step.DelayMs) * time.Millisecond
	}
	return time.Duration(s.Settings.ThinkingDelayMs) * time.Millisecond
}

// ScriptedProvider replays a scenario one step per call.
type ScriptedProvider struct {
	scenario *Scenario

	mu      sync.Mutex
	next    int
	waits   int
	prompts []string
}

// NewScriptedProvider returns a provider replying with replies in order.
func NewScriptedProvider(replies ...string) *ScriptedProvider {
	steps := make([]ScenarioStep, 0, len(replies))
	for _, r := range replies {
		steps = append(steps, ScenarioStep{Reply: r})
	}
	return NewScenarioProvider(&Scenario{Name: "inline", Steps: steps})
}

// NewScenarioProvider returns a provider replaying scenario.
func NewScenarioProvider(scenario *Scenario) *ScriptedProvider {
	return &ScriptedProvider{scenario: scenario}
}

// NewScriptedProviderFromFile loads a scenario file.
func NewScriptedProviderFromFile(path string) (*ScriptedProvider, error) {
	if path == "" {
		return nil, &Error{Provider: NameScripted, Code: ErrorCodeConfig, Message: "scenario file is required (ai.scenario)"}
	}
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, &Error{Provider: NameScripted, Code: ErrorCodeConfig, Message: "failed to load scenario", Underlying: err}
	}
	return NewScenarioProvider(scenario), nil
}

func (p *ScriptedProvider) Name() string  { return NameScripted }
func (p *ScriptedProvider) Model() string { return p.scenario.Name }

// Scenario returns the scenario being replayed.
func (p *ScriptedProvider) Scenario() *Scenario {
	return p.scenario
}

// Prompts returns every prompt received so far.
func (p *ScriptedProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Complete implements Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	if p.next >= len(p.scenario.Steps) {
		p.mu.Unlock()
		return "", &Error{Provider: NameScripted, Code: ErrorCodeEmptyResponse,
			Message: fmt.Sprintf("scenario %q has no more steps", p.scenario.Name)}
	}
	step := p.scenario.Steps[p.next]
	trigger := strings.TrimPrefix(step.Trigger, "contains:")
	if trigger != "" && !strings.Contains(prompt, trigger) {
		defer p.mu.Unlock()
		if p.waits >= MaxWaits {
			return "", &Error{Provider: NameScripted, Code: ErrorCodeEmptyResponse,
				Message: fmt.Sprintf("scenario %q: step %d trigger %q not met after %d attempts",
					p.scenario.Name, p.next+1, trigger, p.waits+1)}
		}
		p.waits++
		return WaitingReply, nil
	}
	p.next++
	p.waits = 0
	p.mu.Unlock()

	if delay := p.scenario.thinkingDelay(step); delay > 0 {
		select {
		case <-ctx.Done():
			return "", fromTransport(NameScripted, ctx.Err())
		case <-time.After(delay):
		}
	}
	return step.Reply, nil
}
