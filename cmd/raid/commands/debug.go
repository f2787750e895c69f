package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/tools"
)

var (
	debugNamespace string
	debugPod       string
	debugService   string
	debugLines     int
)

var debugCmd = &cobra.Command{
	Use:   "debug <tool>",
	Short: "Run a single diagnostic tool",
	Long: `Run one catalog tool exactly as the agent would, without a model.
Useful to check what a tool returns on this host and which backend runs it.

Examples:
  raid debug free
  raid debug kubectl_logs --namespace default --pod web-0 --lines 50
  raid debug list`,
	Args: cobra.ExactArgs(1),
	RunE: runDebugTool,
}

var debugListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tool catalog and the backend serving each tool",
	Args:  cobra.NoArgs,
	RunE:  runDebugList,
}

func init() {
	debugCmd.Flags().StringVar(&debugNamespace, "namespace", "", "Kubernetes namespace")
	debugCmd.Flags().StringVar(&debugPod, "pod", "", "Pod name")
	debugCmd.Flags().StringVar(&debugService, "service", "", "Systemd service")
	debugCmd.Flags().IntVar(&debugLines, "lines", 0, "Number of lines (0 uses the tool default)")

	debugCmd.AddCommand(debugListCmd)
}

func runDebugTool(cmd *cobra.Command, args []string) error {
	id, ok := tools.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%w: %s (see raid debug list)", dispatch.ErrUnknownTool, args[0])
	}
	toolArgs := tools.Args{Namespace: debugNamespace, Pod: debugPod, Service: debugService}
	if debugLines > 0 {
		toolArgs.Lines = tools.IntPtr(debugLines)
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

	res := a.table.Dispatch(ctx, id, toolArgs)
	if a.printer.JSON() {
		return a.printer.WriteJSON(res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "$ %s\n", res.Command)
	fmt.Fprintln(out, strings.TrimRight(res.Body(), "\n"))
	a.printer.Mutedf("%s in %dms", res.Status(), res.ExecutionTimeMs)
	if !res.Success {
		return fmt.Errorf("tool %s failed", id)
	}
	return nil
}

type toolRoute struct {
	Tool        string `json:"tool"`
	Category    string `json:"category"`
	Backend     string `json:"backend"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

func runDebugList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown: %v", err)
		}
	}()

	routes := a.registry.Routes()
	var rows []toolRoute
	for _, spec := range tools.Catalog() {
		rows = append(rows, toolRoute{
			Tool:        string(spec.ID),
			Category:    string(spec.Category),
			Backend:     routes[spec.ID],
			Usage:       spec.Usage(),
			Description: spec.Description,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Category < rows[j].Category })

	if a.printer.JSON() {
		return a.printer.WriteJSON(rows)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCATEGORY\tBACKEND\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Tool, r.Category, r.Backend, r.Description)
	}
	return w.Flush()
}
