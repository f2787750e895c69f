package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/knownissues"
)

var issuesCategory string

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Browse the known issues catalog",
	Long: `Browse the catalog of known failure patterns that is consulted before
every investigation. Custom issues are loaded from known_issues.file.`,
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withIssues(cmd, func(a *app, category knownissues.Category) error {
			var out []knownissues.Issue
			for _, issue := range a.issues.All() {
				if category == "" || issue.Category == category {
					out = append(out, issue)
				}
			}
			return printIssues(cmd, a, out)
		})
	},
}

var issuesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one known issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIssues(cmd, func(a *app, _ knownissues.Category) error {
			issue, err := a.issues.Get(args[0])
			if err != nil {
				return err
			}
			if a.printer.JSON() {
				return a.printer.WriteJSON(issue)
			}
			fmt.Fprint(cmd.OutOrStdout(), issue.Format())
			return nil
		})
	},
}

var issuesSearchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search issues by title, description, keywords and tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIssues(cmd, func(a *app, category knownissues.Category) error {
			var out []knownissues.Issue
			for _, issue := range a.issues.Search(strings.Join(args, " ")) {
				if category == "" || issue.Category == category {
					out = append(out, issue)
				}
			}
			return printIssues(cmd, a, out)
		})
	},
}

var issuesMatchCmd = &cobra.Command{
	Use:   "match <text...>",
	Short: "Score issues against text such as an error message or command output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIssues(cmd, func(a *app, category knownissues.Category) error {
			matches := a.issues.Match(strings.Join(args, " "), category)
			if a.printer.JSON() {
				return a.printer.WriteJSON(matches)
			}
			if len(matches) == 0 {
				a.printer.Mutedf("No matching issues")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONFIDENCE\tSEVERITY\tTITLE\tMATCHED")
			for _, m := range matches {
				matched := append(append([]string(nil), m.MatchedPatterns...), m.MatchedKeywords...)
				fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n", m.Issue.ID, m.Confidence, m.Issue.Severity, m.Issue.Title, strings.Join(matched, ", "))
			}
			return w.Flush()
		})
	},
}

func init() {
	issuesCmd.PersistentFlags().StringVar(&issuesCategory, "category", "", "Restrict to one category")

	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesGetCmd)
	issuesCmd.AddCommand(issuesSearchCmd)
	issuesCmd.AddCommand(issuesMatchCmd)
}

// withIssues loads the catalog and runs fn with the parsed category filter.
func withIssues(cmd *cobra.Command, fn func(*app, knownissues.Category) error) error {
	var category knownissues.Category
	if issuesCategory != "" {
		c, err := knownissues.ParseCategory(issuesCategory)
		if err != nil {
			return err
		}
		category = c
	}

	a, err := newBaseApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown: %v", err)
		}
	}()
	if err := a.buildIssues(); err != nil {
		return err
	}
	return fn(a, category)
}

func printIssues(cmd *cobra.Command, a *app, issues []knownissues.Issue) error {
	if a.printer.JSON() {
		if issues == nil {
			issues = []knownissues.Issue{}
		}
		return a.printer.WriteJSON(issues)
	}
	if len(issues) == 0 {
		a.printer.Mutedf("No issues found")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tSEVERITY\tTITLE")
	for _, issue := range issues {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", issue.ID, issue.Category, issue.Severity, issue.Title)
	}
	return w.Flush()
}
