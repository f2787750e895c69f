package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/history"
)

var (
	historyLimit int
	cleanupDays  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved health checks and sessions",
}

var historyChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List recent health checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(a *app, store *history.Store) error {
			checks, err := store.RecentChecks(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if a.printer.JSON() {
				if checks == nil {
					checks = []history.Check{}
				}
				return a.printer.WriteJSON(checks)
			}
			if len(checks) == 0 {
				a.printer.Mutedf("No checks recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tCOMPONENT\tSTATUS\tTOOLS\tSUMMARY")
			for _, c := range checks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", shortID(c.ID), ago(c.Timestamp), c.Component,
					c.Status, c.ToolCallsUsed, truncate(firstLine(c.Analysis), 60))
			}
			return w.Flush()
		})
	},
}

var historySessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(a *app, store *history.Store) error {
			sessions, err := store.ListSessions(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if a.printer.JSON() {
				if sessions == nil {
					sessions = []history.SessionSummary{}
				}
				return a.printer.WriteJSON(sessions)
			}
			if len(sessions) == 0 {
				a.printer.Mutedf("No sessions saved")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPDATED\tSTATE\tTOOLS\tPROBLEM")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", s.ID, ago(s.UpdatedAt), s.State,
					s.ToolCallsUsed, s.ToolCallBudget, truncate(firstLine(s.Problem), 60))
			}
			return w.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the transcript of a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(a *app, store *history.Store) error {
			snap, err := store.LoadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.printer.JSON() {
				return a.printer.WriteJSON(snap)
			}
			a.printer.Title("Session " + snap.ID)
			a.printer.Mutedf("%s · %d/%d tool calls · created %s", snap.State,
				snap.ToolCallsUsed, snap.ToolCallBudget, ago(snap.CreatedAt))
			out := cmd.OutOrStdout()
			for _, m := range snap.Messages {
				fmt.Fprintf(out, "\n[%s]\n%s\n", m.Role.Label(), strings.TrimRight(m.Content, "\n"))
			}
			return nil
		})
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete checks and finished sessions older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(a *app, store *history.Store) error {
			days := cleanupDays
			if days <= 0 {
				days = a.cfg.Database.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("retention must be at least one day")
			}
			n, err := store.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			if a.printer.JSON() {
				return a.printer.WriteJSON(map[string]int64{"deleted": n})
			}
			a.printer.Successf("Deleted %d records older than %d days", n, days)
			return nil
		})
	},
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows")
	historyCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (default: database.retention_days)")

	historyCmd.AddCommand(historyChecksCmd)
	historyCmd.AddCommand(historySessionsCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanupCmd)
}

// withStore opens the history database without automatic cleanup, so
// listing never deletes anything.
func withStore(cmd *cobra.Command, fn func(*app, *history.Store) error) error {
	a, err := newBaseApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown: %v", err)
		}
	}()

	store, err := history.Open(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = store
	return fn(a, store)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return units.HumanDuration(time.Since(t)) + " ago"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
