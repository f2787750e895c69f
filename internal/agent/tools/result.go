package tools

import (
	"fmt"
	"strings"
)

const (
	// MaxOutputBytes is the default cap on tool output fed back to the model.
	// Larger outputs are truncated to keep the prompt within provider limits.
	MaxOutputBytes = 50 * 1024
)

// Result is the outcome of one tool execution.
type Result struct {
	ToolName        string `json:"tool_name"`
	Command         string `json:"command"`
	Success         bool   `json:"success"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Failure builds a failed result that never reached an executor.
func Failure(id ID, args Args, err error) Result {
	return Result{
		ToolName: string(id),
		Command:  CommandString(id, args),
		Success:  false,
		Error:    err.Error(),
	}
}

// Status is "success" or "failed".
func (r Result) Status() string {
	if r.Success {
		return "success"
	}
	return "failed"
}

// Body is the output of a successful result or the error of a failed one.
func (r Result) Body() string {
	if r.Success {
		return r.Output
	}
	if r.Error == "" {
		return "unknown error"
	}
	return r.Error
}

// Truncate caps Output at maxBytes. The first 80% of the budget is kept and
// a note with the original size is appended.
func (r Result) Truncate(maxBytes int) Result {
	if maxBytes <= 0 || len(r.Output) <= maxBytes {
		return r
	}
	keep := maxBytes * 80 / 100
	// do not cut a multi-byte rune in half
	for keep > 0 && !isRuneStart(r.Output[keep]) {
		keep--
	}
	original := len(r.Output)
	r.Output = fmt.Sprintf("%s\n[TRUNCATED: %d→%d bytes. Use --lines or a namespace to narrow the output.]",
		strings.TrimRight(r.Output[:keep], "\n"), original, keep)
	return r
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// limitLines keeps the first (or last) n lines of s.
func limitLines(s string, n int, fromEnd bool) string {
	if n < 0 {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	if fromEnd {
		lines = lines[len(lines)-n:]
	} else {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n") + "\n"
}
