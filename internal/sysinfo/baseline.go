package sysinfo

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/moolen/raid/internal/agent/tools"
)

// DefaultBaseline is the set of cheap tools run before a health check.
var DefaultBaseline = []tools.ID{
	tools.IPAddr,
	tools.Free,
	tools.Df,
	tools.Uptime,
	tools.SystemctlFailed,
	tools.JournalctlErrors,
}

// baselineLines caps tools that accept --lines.
const baselineLines = 20

// maxSummaryLines caps the output kept per tool in the summary.
const maxSummaryLines = 15

// Baseline runs the tools in parallel and renders a compact summary. Tool
// failures are reported in the summary; only context cancellation makes
// Baseline fail.
func Baseline(ctx context.Context, runner tools.Runner, ids []tools.ID) (string, error) {
	results := make([]tools.Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = runner.Run(gctx, id, baselineArgs(id))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("baseline diagnostics interrupted: %w", err)
	}

	var b strings.Builder
	b.WriteString("INITIAL SYSTEM DIAGNOSTICS\n")
	b.WriteString("==========================\n")
	for i, res := range results {
		fmt.Fprintf(&b, "\n[%s] %s\n", ids[i], res.Status())
		if res.Command != "" {
			fmt.Fprintf(&b, "Command: %s\n", res.Command)
		}
		b.WriteString(summarize(res.Body(), maxSummaryLines))
	}
	return b.String(), nil
}

func baselineArgs(id tools.ID) tools.Args {
	spec, ok := tools.Get(id)
	if !ok {
		return tools.Args{}
	}
	for _, a := range spec.Accepts {
		if a == tools.ArgLines {
			return tools.Args{Lines: tools.IntPtr(baselineLines)}
		}
	}
	return tools.Args{}
}

// summarize keeps the first n non-empty lines of out.
func summarize(out string, n int) string {
	var (
		b     strings.Builder
		kept  int
		total int
	)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if kept < n {
			b.WriteString(line)
			b.WriteByte('\n')
			kept++
		}
	}
	if total > kept {
		fmt.Fprintf(&b, "... (%d more lines)\n", total-kept)
	}
	return b.String()
}
