// Package ui renders session progress and results on the terminal, as plain
// text, markdown or JSON.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/moolen/raid/internal/agent/action"
	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/agent/tools"
)

// Output formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// verboseOutputLines caps tool output echoed in verbose mode.
const verboseOutputLines = 20

// Options configures a Printer.
type Options struct {
	Out      io.Writer // results; defaults to stdout
	Err      io.Writer // progress; defaults to stderr
	Format   string
	Color    bool
	Verbose  bool
	Progress bool
}

// Printer writes human or machine readable output and follows a session as
// a session.Observer.
type Printer struct {
	session.NopObserver

	out      io.Writer
	err      io.Writer
	format   string
	color    bool
	verbose  bool
	tty      bool
	renderer *glamour.TermRenderer
	spinner  *Spinner
}

// NewPrinter creates a printer. Markdown is rendered with glamour only when
// Out is a terminal and the format is text.
func NewPrinter(opts Options) *Printer {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}

	p := &Printer{
		out:     opts.Out,
		err:     opts.Err,
		format:  opts.Format,
		color:   opts.Color,
		verbose: opts.Verbose,
		tty:     IsTerminal(opts.Out),
	}
	if p.tty && p.color && p.format == FormatText {
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(terminalWidth(opts.Out)-4)); err == nil {
			p.renderer = r
		}
	}
	p.spinner = NewSpinner(opts.Err, opts.Progress && p.format != FormatJSON && IsTerminal(opts.Err))
	return p
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			return min(width, 120)
		}
	}
	return 80
}

// JSON reports whether the printer emits JSON.
func (p *Printer) JSON() bool { return p.format == FormatJSON }

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// Title prints a heading.
func (p *Printer) Title(s string) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.out, p.paint(titleStyle, s))
}

// Infof prints a plain line.
func (p *Printer) Infof(format string, args ...interface{}) {
	if p.JSON() {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Successf prints a success line.
func (p *Printer) Successf(format string, args ...interface{}) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.out, p.paint(successStyle, "✓ "+fmt.Sprintf(format, args...)))
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...interface{}) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.out, p.paint(warningStyle, "! "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error line on the error stream.
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.err, p.paint(errorStyle, "✗ "+fmt.Sprintf(format, args...)))
}

// Mutedf prints a de-emphasized line.
func (p *Printer) Mutedf(format string, args ...interface{}) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.out, p.paint(mutedStyle, fmt.Sprintf(format, args...)))
}

// Markdown renders text for the terminal.
func (p *Printer) Markdown(text string) string {
	if p.renderer == nil {
		return text
	}
	out, err := p.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// WriteJSON prints v as indented JSON.
func (p *Printer) WriteJSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ResultJSON is the JSON rendering of a session result.
type ResultJSON struct {
	SessionID      string `json:"session_id"`
	Result         string `json:"result"`
	Detail         string `json:"detail"`
	State          string `json:"state"`
	ToolCallsUsed  int    `json:"tool_calls_used"`
	ToolCallBudget int    `json:"tool_call_budget"`
}

// Result prints the outcome of a session step.
func (p *Printer) Result(id string, res session.Result, stats session.Stats) error {
	if p.JSON() {
		return p.WriteJSON(ResultJSON{
			SessionID:      id,
			Result:         session.Kind(res),
			Detail:         session.Detail(res),
			State:          string(stats.State),
			ToolCallsUsed:  stats.Used,
			ToolCallBudget: stats.Budget,
		})
	}

	switch r := res.(type) {
	case session.Success:
		fmt.Fprintln(p.out)
		p.Title("Analysis")
		fmt.Fprintln(p.out, p.Markdown(r.FinalAnalysis))
		fmt.Fprintln(p.out)
		p.Successf("Investigation complete (%d/%d tool calls)", stats.Used, stats.Budget)
	case session.PausedForUserInput:
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, p.paint(boxStyle, r.Reason))
	case session.LimitReached:
		fmt.Fprintln(p.out)
		p.Warnf("%s", r.PartialAnalysis)
		p.Mutedf("%d/%d tool calls used", stats.Used, stats.Budget)
	case session.Failed:
		p.Errorf("%s", session.Detail(r))
	}
	return nil
}

// ProviderRequest starts the spinner while the model thinks.
func (p *Printer) ProviderRequest(_ string, _ string, used, budget int) {
	p.spinner.Start(fmt.Sprintf("Thinking (%d/%d tool calls used)", used, budget))
}

// ProviderResponse stops the spinner.
func (p *Printer) ProviderResponse(string, string, time.Duration, error) {
	p.spinner.Stop()
}

// ToolStarted announces a tool call.
func (p *Printer) ToolStarted(call action.RunTool) {
	if p.JSON() {
		return
	}
	line := "→ " + tools.CommandString(call.Tool, call.Args)
	fmt.Fprintln(p.out, p.paint(toolStyle, line))
	p.spinner.Start("Running " + string(call.Tool))
}

// ToolCompleted reports the outcome of a tool call, with output in verbose
// mode.
func (p *Printer) ToolCompleted(res tools.Result) {
	p.spinner.Stop()
	if p.JSON() {
		return
	}
	if !res.Success {
		fmt.Fprintln(p.out, p.paint(errorStyle, "  ✗ "+firstLine(res.Body())))
		return
	}
	if p.verbose {
		fmt.Fprintln(p.out, p.paint(mutedStyle, indent(headLines(res.Output, verboseOutputLines))))
		return
	}
	fmt.Fprintln(p.out, p.paint(mutedStyle, fmt.Sprintf("  ✓ %d ms", res.ExecutionTimeMs)))
}

// Analysis prints interim findings.
func (p *Printer) Analysis(text string) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.out, p.Markdown(text))
}

// Finished makes sure no spinner outlives the step.
func (p *Printer) Finished(session.Result, session.Stats) {
	p.spinner.Stop()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func headLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
