package session

import (
	"fmt"
	"time"

	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/provider"
	"github.com/moolen/raid/internal/agent/transcript"
)

// Snapshot is the persistable state of a session.
type Snapshot struct {
	ID             string `json:"id"`
	Problem        string `json:"problem"`
	State          State  `json:"state"`
	ToolCallsUsed  int    `json:"tool_calls_used"`
	ToolCallBudget int    `json:"tool_call_budget"`
	// ContinueIncrement is the budget raise ContinueAfterLimit applies.
	// Zero in snapshots written before it was recorded.
	ContinueIncrement int                  `json:"continue_increment,omitempty"`
	Messages          []transcript.Message `json:"messages"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Snapshot captures the session for later Restore.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:                s.id,
		Problem:           s.problem,
		State:             s.state,
		ToolCallsUsed:     s.used,
		ToolCallBudget:    s.budget,
		ContinueIncrement: s.cfg.ContinueIncrement,
		Messages:          s.Transcript(),
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.updatedAt,
	}
}

// Restore rebuilds a session from a snapshot. A snapshot taken while the
// loop was running (the process died mid-step) resumes as paused for input.
// The snapshot's budget and increment take precedence over cfg; cfg only
// fills in what the snapshot lacks.
func Restore(snap Snapshot, p provider.Provider, table *dispatch.Table, cfg Config, opts ...Option) (*Session, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("snapshot has no id")
	}
	if snap.ToolCallsUsed < 0 || snap.ToolCallBudget < 0 || snap.ContinueIncrement < 0 {
		return nil, fmt.Errorf("snapshot %s has negative counters", snap.ID)
	}
	for i, m := range snap.Messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("snapshot %s: message %d has unknown role %q", snap.ID, i, m.Role)
		}
	}

	state := snap.State
	switch state {
	case StateRunning:
		state = StatePausedForInput
	case StateIdle, StatePausedForInput, StatePausedForLimit, StateSucceeded, StateFailed:
	default:
		return nil, fmt.Errorf("snapshot %s has unknown state %q", snap.ID, snap.State)
	}

	s := New(p, table, cfg, append([]Option{WithID(snap.ID)}, opts...)...)
	s.problem = snap.Problem
	s.state = state
	s.used = snap.ToolCallsUsed
	if snap.ToolCallBudget > 0 {
		s.budget = snap.ToolCallBudget
	}
	if snap.ContinueIncrement > 0 {
		s.cfg.ContinueIncrement = snap.ContinueIncrement
	}
	s.messages = append([]transcript.Message(nil), snap.Messages...)
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	return s, nil
}
