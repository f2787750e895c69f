package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/provider"
	"github.com/moolen/raid/internal/agent/session"
)

var (
	agentMaxToolCalls int
	agentPrompt       string
	agentResume       string
	agentAuditLog     string
	agentNoBaseline   bool
)

// errSessionFailed is returned when an investigation ends in a failure that
// was already shown to the user.
var errSessionFailed = errors.New("investigation failed")

var agentCmd = &cobra.Command{
	Use:   "agent [problem...]",
	Short: "Investigate a problem interactively",
	Long: `Start an interactive investigation. The model runs diagnostic tools,
asks for clarification when it needs it and reports its analysis.

The problem is taken from the arguments, --prompt or standard input.

Examples:
  raid agent "nginx keeps restarting"
  raid agent --max-tool-calls 20 "disk full on /var"
  raid agent --resume 3f2c9a4e-...`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().IntVar(&agentMaxToolCalls, "max-tool-calls", 0, "Tool call budget (default: agent.max_tool_calls)")
	agentCmd.Flags().StringVar(&agentPrompt, "prompt", "", "Problem statement")
	agentCmd.Flags().StringVar(&agentResume, "resume", "", "Resume a saved session by id")
	agentCmd.Flags().StringVar(&agentAuditLog, "audit-log", "", "Write a JSONL audit trail to this file")
	agentCmd.Flags().BoolVar(&agentNoBaseline, "no-baseline", false, "Skip the baseline diagnostics")
}

func runAgent(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.start(ctx); err != nil {
		return err
	}

	p, err := a.newProvider()
	if err != nil {
		return err
	}
	reader := bufio.NewReader(a.in)

	if agentResume != "" {
		return a.resume(ctx, cmd, p, reader)
	}

	problem, err := readProblem(args, agentPrompt, reader, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := a.newSession(p, sessionOptions{budget: agentMaxToolCalls, auditLog: agentAuditLog})
	if err != nil {
		return err
	}
	if !a.printer.JSON() {
		a.printer.Title("raid")
		a.printer.Mutedf("Session %s · %s/%s · budget %d", s.ID(), p.Name(), p.Model(), s.Stats().Budget)
	}

	sysctx := a.systemContext(ctx, a.hostInfo(ctx), !agentNoBaseline)
	res := s.Run(ctx, problem, sysctx)
	return a.interact(ctx, cmd, s, res, reader)
}

// resume restores a saved session and picks up where it stopped.
func (a *app) resume(ctx context.Context, cmd *cobra.Command, p provider.Provider, reader *bufio.Reader) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	snap, err := store.LoadSession(ctx, agentResume)
	if err != nil {
		return err
	}
	s, err := a.restoreSession(p, snap, agentAuditLog)
	if err != nil {
		return err
	}

	a.printer.Mutedf("Resuming session %s (%d/%d tool calls used, %s)",
		s.ID(), snap.ToolCallsUsed, snap.ToolCallBudget, s.State())

	var res session.Result
	switch s.State() {
	case session.StatePausedForInput:
		answer, ok := ask(reader, cmd.ErrOrStderr(), "Your answer (empty to quit): ")
		if !ok {
			a.printResumeHint(s)
			return nil
		}
		res = s.ContinueWithInput(ctx, answer)
	case session.StatePausedForLimit:
		res = s.ContinueAfterLimit(ctx)
	case session.StateIdle:
		res = s.Run(ctx, snap.Problem, a.systemContext(ctx, a.hostInfo(ctx), !agentNoBaseline))
	default:
		a.printer.Infof("%s", s.Summary())
		return nil
	}
	return a.interact(ctx, cmd, s, res, reader)
}

// interact shows each result and keeps the session going for as long as
// the operator answers. Every stop is saved so it can be resumed later.
func (a *app) interact(ctx context.Context, cmd *cobra.Command, s *session.Session, res session.Result, reader *bufio.Reader) error {
	errOut := cmd.ErrOrStderr()
	for {
		a.saveSnapshot(ctx, s)
		if err := a.printer.Result(s.ID(), res, s.Stats()); err != nil {
			return err
		}
		if a.printer.JSON() {
			return resultError(res)
		}

		switch res.(type) {
		case session.PausedForUserInput:
			answer, ok := ask(reader, errOut, "Your answer (empty to quit): ")
			if !ok {
				a.printResumeHint(s)
				return nil
			}
			res = s.ContinueWithInput(ctx, answer)
		case session.LimitReached:
			answer, _ := ask(reader, errOut, fmt.Sprintf("Continue with %d more tool calls? (y/n) ", s.ContinueIncrement()))
			if !isYes(answer) {
				a.printResumeHint(s)
				return nil
			}
			res = s.ContinueAfterLimit(ctx)
		default:
			return resultError(res)
		}
	}
}

func (a *app) printResumeHint(s *session.Session) {
	a.printer.Mutedf("Session saved. Resume with: raid agent --resume %s", s.ID())
}

func resultError(res session.Result) error {
	if _, ok := res.(session.Failed); ok {
		return errSessionFailed
	}
	return nil
}

// readProblem returns the problem statement from args, the prompt flag or
// the reader, in that order.
func readProblem(args []string, prompt string, reader *bufio.Reader, out io.Writer) (string, error) {
	if problem := strings.TrimSpace(strings.Join(args, " ")); problem != "" {
		return problem, nil
	}
	if problem := strings.TrimSpace(prompt); problem != "" {
		return problem, nil
	}
	problem, ok := ask(reader, out, "Describe the problem: ")
	if !ok {
		return "", errors.New("no problem statement given")
	}
	return problem, nil
}

// ask prints a prompt and reads one line. ok is false on EOF, an empty line
// or "quit".
func ask(reader *bufio.Reader, out io.Writer, prompt string) (string, bool) {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return "", false
	}
	switch strings.ToLower(line) {
	case "", "quit", "exit":
		return "", false
	}
	return line, true
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
