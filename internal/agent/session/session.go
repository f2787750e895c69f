// Package session drives the diagnostic loop. A Session alternates between
// asking the model for its next action and carrying it out, until the model
// declares the problem solved, needs the operator, runs out of tool calls or
// the provider fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/raid/internal/agent/action"
	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/provider"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/agent/transcript"
	"github.com/moolen/raid/internal/logging"
)

// DefaultBudget is the tool call budget used when Config leaves it unset.
const DefaultBudget = 10

// LimitAdvisory is returned in LimitReached results.
const LimitAdvisory = "Tool call limit reached before the investigation completed. " +
	"Review the findings so far or continue to allow more tool calls."

// ErrInvalidState is returned (inside a Failed result) when an operation is
// not defined for the session's current state.
var ErrInvalidState = errors.New("operation not valid in current session state")

// State is the position of a session in its lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StatePausedForInput State = "paused_for_input"
	StatePausedForLimit State = "paused_for_limit"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Terminal reports whether no further operation is defined in s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Enricher rewrites the problem statement before the first provider call,
// typically to append matching known issues.
type Enricher interface {
	Enrich(text string) string
}

// Config bounds a session.
type Config struct {
	// Budget is the initial number of tool calls allowed.
	Budget int

	// ContinueIncrement is added to the budget by ContinueAfterLimit.
	// Zero means the initial budget.
	ContinueIncrement int
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.ContinueIncrement <= 0 {
		c.ContinueIncrement = c.Budget
	}
	return c
}

// Option configures a Session.
type Option func(*Session)

// WithEnricher sets the problem enricher.
func WithEnricher(e Enricher) Option {
	return func(s *Session) { s.enricher = e }
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithTracer overrides the tracer used for provider and tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns one conversation with the model. It is not safe for
// concurrent use; every operation runs the loop to its next stop on the
// caller's goroutine.
type Session struct {
	id        string
	provider  provider.Provider
	table     *dispatch.Table
	cfg       Config
	enricher  Enricher
	observers Observers
	tracer    trace.Tracer
	logger    *logging.Logger
	now       func() time.Time

	problem   string
	messages  []transcript.Message
	used      int
	budget    int
	state     State
	createdAt time.Time
	updatedAt time.Time
}

// New creates an idle session.
func New(p provider.Provider, table *dispatch.Table, cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:       uuid.NewString(),
		provider: p,
		table:    table,
		cfg:      cfg,
		tracer:   otel.Tracer("raid/session"),
		now:      time.Now,
		budget:   cfg.Budget,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.GetLogger("session").WithField("session_id", s.id)
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Problem returns the problem statement as given to Run.
func (s *Session) Problem() string { return s.problem }

// Run starts the investigation of problem. systemContext describes the
// host and is embedded in the opening system message. Run is only valid on
// a new session.
func (s *Session) Run(ctx context.Context, problem, systemContext string) Result {
	if s.state != StateIdle {
		return s.invalid("run")
	}

	s.problem = problem
	enriched := problem
	if s.enricher != nil {
		enriched = s.enricher.Enrich(problem)
	}
	s.append(transcript.System(Preamble(systemContext)))
	s.append(transcript.User(enriched))

	s.logger.Info("Starting session (budget %d)", s.budget)
	s.observers.SessionStarted(s.id, problem, s.budget)
	return s.loop(ctx)
}

// ContinueWithInput answers a pause for operator input and resumes the loop.
func (s *Session) ContinueWithInput(ctx context.Context, text string) Result {
	if s.state != StatePausedForInput {
		return s.invalid("continue with input")
	}
	s.append(transcript.User(text))
	s.observers.UserInput(text)
	return s.loop(ctx)
}

// ContinueAfterLimit raises the budget after LimitReached and resumes the
// loop. The number of tool calls already used is kept.
func (s *Session) ContinueAfterLimit(ctx context.Context) Result {
	if s.state != StatePausedForLimit {
		return s.invalid("continue after limit")
	}
	s.budget += s.cfg.ContinueIncrement
	s.logger.Info("Budget raised to %d", s.budget)
	return s.loop(ctx)
}

// Transcript returns a copy of the messages so far.
func (s *Session) Transcript() []transcript.Message {
	out := make([]transcript.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ContinueIncrement is the number of tool calls ContinueAfterLimit adds.
func (s *Session) ContinueIncrement() int { return s.cfg.ContinueIncrement }

// Stats is a point-in-time view of the counters.
type Stats struct {
	State    State
	Messages int
	Used     int
	Budget   int
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	return Stats{State: s.state, Messages: len(s.messages), Used: s.used, Budget: s.budget}
}

// Summary renders the counters for humans.
func (s *Session) Summary() string {
	st := s.Stats()
	return fmt.Sprintf("Session %s: %d messages, %d/%d tool calls used, state %s",
		s.id, st.Messages, st.Used, st.Budget, st.State)
}

func (s *Session) invalid(op string) Result {
	s.logger.Warn("Rejected %s in state %s", op, s.state)
	return Failed{Cause: fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s.state), ToolCallsUsed: s.used}
}

func (s *Session) append(m transcript.Message) {
	s.messages = append(s.messages, m)
	s.updatedAt = s.now()
}

func (s *Session) loop(ctx context.Context) Result {
	s.state = StateRunning
	s.observers.LoopEntered(s.Stats())

	for {
		if s.used >= s.budget {
			return s.finish(LimitReached{PartialAnalysis: LimitAdvisory, ToolCallsUsed: s.used})
		}

		reply, err := s.complete(ctx)
		if err != nil {
			return s.finish(Failed{Cause: err, ToolCallsUsed: s.used})
		}

		var pause Result
		switch a := action.Parse(reply).(type) {
		case action.RunTool:
			res := s.runTool(ctx, a)
			s.used++
			s.append(transcript.Tool(res))
		case action.ProvideAnalysis:
			if IsClarificationRequest(a.Text) {
				pause = PausedForUserInput{Reason: a.Text, ToolCallsUsed: s.used}
				break
			}
			s.append(transcript.Assistant(a.Text))
			s.observers.Analysis(a.Text)
		case action.AskUser:
			pause = PausedForUserInput{Reason: a.Question, ToolCallsUsed: s.used}
		}

		// The completion marker wins over whatever the reply also asked for.
		if final, ok := action.FinalAnalysis(reply); ok {
			return s.finish(Success{FinalAnalysis: final, ToolCallsUsed: s.used})
		}
		if pause != nil {
			return s.finish(pause)
		}
	}
}

func (s *Session) complete(ctx context.Context) (string, error) {
	prompt := transcript.Build(s.messages, s.used, s.budget)
	name := s.provider.Name()

	ctx, span := s.tracer.Start(ctx, "session.provider",
		trace.WithAttributes(
			attribute.String("raid.session_id", s.id),
			attribute.String("raid.provider", name),
			attribute.Int("raid.prompt_bytes", len(prompt)),
			attribute.Int("raid.tool_calls_used", s.used),
		))
	defer span.End()

	s.observers.ProviderRequest(name, prompt, s.used, s.budget)
	start := s.now()
	reply, err := s.provider.Complete(ctx, prompt)
	elapsed := s.now().Sub(start)
	s.observers.ProviderResponse(name, reply, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider request failed")
		s.logger.ErrorWithErr("Provider request failed", err)
		return "", err
	}
	s.logger.Debug("Provider replied in %s (%d bytes)", elapsed, len(reply))
	return reply, nil
}

func (s *Session) runTool(ctx context.Context, call action.RunTool) tools.Result {
	ctx, span := s.tracer.Start(ctx, "session.tool",
		trace.WithAttributes(
			attribute.String("raid.session_id", s.id),
			attribute.String("raid.tool", string(call.Tool)),
		))
	defer span.End()

	s.observers.ToolStarted(call)
	res := s.table.Dispatch(ctx, call.Tool, call.Args)
	s.observers.ToolCompleted(res)

	span.SetAttributes(attribute.Bool("raid.tool_success", res.Success))
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
		s.logger.Debug("Tool %s failed: %s", call.Tool, res.Error)
	}
	return res
}

func (s *Session) finish(res Result) Result {
	switch res.(type) {
	case Success:
		s.state = StateSucceeded
	case PausedForUserInput:
		s.state = StatePausedForInput
	case LimitReached:
		s.state = StatePausedForLimit
	default:
		s.state = StateFailed
	}
	s.updatedAt = s.now()
	s.logger.Info("Session stopped: %s after %d/%d tool calls", Kind(res), s.used, s.budget)
	s.observers.Finished(res, s.Stats())
	return res
}
