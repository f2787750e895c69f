package commands

import (
	"bufio"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/session"
)

// askDefaultBudget keeps one-shot questions short.
const askDefaultBudget = 5

var (
	askMaxToolCalls int
	askBaseline     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask a one-shot question without interaction",
	Long: `Run a short investigation and print the answer. The session never
waits for input: if the model asks a question or runs out of tool calls the
session is saved and can be continued with raid agent --resume.

Examples:
  raid ask "why is the load average so high?"
  raid ask -o json "which pods are not ready?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askMaxToolCalls, "max-tool-calls", askDefaultBudget, "Tool call budget")
	askCmd.Flags().BoolVar(&askBaseline, "baseline", false, "Run the baseline diagnostics first")
}

func runAsk(cmd *cobra.Command, args []string) error {
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
	problem, err := readProblem(args, "", bufio.NewReader(a.in), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := a.newSession(p, sessionOptions{budget: askMaxToolCalls})
	if err != nil {
		return err
	}
	res := s.Run(ctx, problem, a.systemContext(ctx, a.hostInfo(ctx), askBaseline))
	a.saveSnapshot(ctx, s)

	if err := a.printer.Result(s.ID(), res, s.Stats()); err != nil {
		return err
	}
	switch res.(type) {
	case session.PausedForUserInput, session.LimitReached:
		if !a.printer.JSON() {
			a.printResumeHint(s)
		}
	}
	return resultError(res)
}
