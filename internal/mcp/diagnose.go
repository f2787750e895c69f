package mcp

import (
	"context"

	"github.com/moolen/raid/internal/agent/session"
)

// Diagnosis is the outcome of a diagnose call.
type Diagnosis struct {
	SessionID      string `json:"session_id"`
	Result         string `json:"result"`
	Analysis       string `json:"analysis"`
	ToolCallsUsed  int    `json:"tool_calls_used"`
	ToolCallBudget int    `json:"tool_call_budget"`
}

// Diagnoser runs a session to completion without an operator.
type Diagnoser interface {
	Diagnose(ctx context.Context, problem string, budget int) (Diagnosis, error)
}

// SessionDiagnoser runs one fresh session per call. A session that pauses
// for input or hits its budget is reported as is; it can be resumed later
// with raid agent --resume when Save is set.
type SessionDiagnoser struct {
	// NewSession creates a session with the given budget. Zero selects the
	// configured default.
	NewSession func(budget int) (*session.Session, error)

	// SystemContext describes the host. Optional.
	SystemContext func(ctx context.Context) string

	// Save persists the final snapshot. Optional.
	Save func(ctx context.Context, snap session.Snapshot) error
}

// Diagnose implements Diagnoser.
func (d *SessionDiagnoser) Diagnose(ctx context.Context, problem string, budget int) (Diagnosis, error) {
	s, err := d.NewSession(budget)
	if err != nil {
		return Diagnosis{}, err
	}

	var sysctx string
	if d.SystemContext != nil {
		sysctx = d.SystemContext(ctx)
	}
	res := s.Run(ctx, problem, sysctx)

	if d.Save != nil {
		if err := d.Save(ctx, s.Snapshot()); err != nil {
			return Diagnosis{}, err
		}
	}

	stats := s.Stats()
	return Diagnosis{
		SessionID:      s.ID(),
		Result:         session.Kind(res),
		Analysis:       session.Detail(res),
		ToolCallsUsed:  stats.Used,
		ToolCallBudget: stats.Budget,
	}, nil
}
