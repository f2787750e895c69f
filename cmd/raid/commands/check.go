package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/history"
)

// checkPrompts maps each health check component to its problem statement.
var checkPrompts = map[string]string{
	"all": "Perform a comprehensive health check of this system. Look for failed services, " +
		"resource pressure (CPU, memory, disk), kernel errors, unhealthy containers and, if present, " +
		"Kubernetes workloads that are not ready. Report every problem found with its likely cause, " +
		"or state that the system is healthy.",
	"system": "Check the health of the host: CPU load, memory pressure, disk usage, " +
		"kernel messages and network interfaces. Report any problems and their likely cause.",
	"containers": "Check the health of the containers on this host: crashed or restarting " +
		"containers and containers using excessive CPU or memory.",
	"kubernetes": "Check the health of the Kubernetes cluster: nodes that are not ready, pods that " +
		"are crash looping, pending or not ready, failing deployments and recent warning events.",
	"cgroups": "Check for cgroup resource pressure on this host: processes or containers hitting " +
		"memory limits, OOM kills and CPU throttling.",
	"systemd": "Check the health of systemd: failed units, services that restart repeatedly and " +
		"services that failed to start at boot.",
	"journal": "Review the system journal for recent errors and warnings and explain the " +
		"significant ones.",
}

// checkComponents lists the accepted components in display order.
var checkComponents = []string{"all", "system", "containers", "kubernetes", "cgroups", "systemd", "journal"}

var (
	checkMaxToolCalls int
	checkNoBaseline   bool
)

var checkCmd = &cobra.Command{
	Use:       "check [component]",
	Short:     "Run a health check",
	Long:      "Run a health check of one component and store the result in the history database.\n\nComponents: " + strings.Join(checkComponents, ", "),
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: checkComponents,
	RunE:      runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkMaxToolCalls, "max-tool-calls", 0, "Tool call budget (default: agent.max_tool_calls)")
	checkCmd.Flags().BoolVar(&checkNoBaseline, "no-baseline", false, "Skip the baseline diagnostics")
}

// checkPrompt returns the problem statement for component.
func checkPrompt(component string) (string, error) {
	prompt, ok := checkPrompts[component]
	if !ok {
		return "", fmt.Errorf("unknown component %q (valid: %s)", component, strings.Join(checkComponents, ", "))
	}
	return prompt, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	component := "all"
	if len(args) == 1 {
		component = strings.ToLower(args[0])
	}
	problem, err := checkPrompt(component)
	if err != nil {
		return err
	}

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
	s, err := a.newSession(p, sessionOptions{budget: checkMaxToolCalls})
	if err != nil {
		return err
	}

	if !a.printer.JSON() {
		a.printer.Title(fmt.Sprintf("Health check: %s", component))
	}
	info := a.hostInfo(ctx)
	res := s.Run(ctx, problem, a.systemContext(ctx, info, !checkNoBaseline))
	a.saveSnapshot(ctx, s)

	store, err := a.openStore(ctx)
	if err != nil {
		a.logger.Warn("Check not saved: %v", err)
	} else {
		record, err := store.SaveCheck(ctx, history.Check{
			Component:     component,
			SystemInfo:    info,
			Analysis:      session.Detail(res),
			Status:        session.Kind(res),
			ToolCallsUsed: res.Used(),
		})
		if err != nil {
			a.logger.Warn("Check not saved: %v", err)
		} else {
			a.logger.Debug("Saved check %s", record.ID)
		}
	}

	if err := a.printer.Result(s.ID(), res, s.Stats()); err != nil {
		return err
	}
	return resultError(res)
}
