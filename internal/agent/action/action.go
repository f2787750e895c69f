// Package action decodes a model reply into the next step of a diagnostic
// session.
//
// The grammar is line-oriented and keyed by four markers:
//
//	CALL_TOOL: <tool> [--namespace <ns>] [--pod <pod>] [--service <svc>] [--lines <n>]
//	COMPLETE: <final analysis>
//	ANALYZE: <intermediate analysis>
//	ASK: <question for the operator>
//
// Markers are matched case-sensitively anywhere in the reply. When several
// are present the tool marker wins, then COMPLETE, ANALYZE and ASK. A reply
// without any marker is treated as free-form analysis. Parse never fails.
package action

import (
	"strconv"
	"strings"

	"github.com/moolen/raid/internal/agent/tools"
)

const (
	ToolMarker     = "CALL_TOOL:"
	CompleteMarker = "COMPLETE:"
	AnalyzeMarker  = "ANALYZE:"
	AskMarker      = "ASK:"
)

// Action is one of RunTool, ProvideAnalysis or AskUser.
type Action interface {
	isAction()
}

// RunTool requests a catalog tool invocation.
type RunTool struct {
	Tool tools.ID
	Args tools.Args
}

// ProvideAnalysis carries analysis text.
type ProvideAnalysis struct {
	Text string
}

// AskUser carries a question for the operator.
type AskUser struct {
	Question string
}

func (RunTool) isAction()         {}
func (ProvideAnalysis) isAction() {}
func (AskUser) isAction()         {}

// Parse decodes a reply. The result is always non-nil.
func Parse(reply string) Action {
	if strings.Contains(reply, ToolMarker) {
		return parseToolCall(reply)
	}
	if text, ok := after(reply, CompleteMarker); ok {
		return ProvideAnalysis{Text: text}
	}
	if text, ok := after(reply, AnalyzeMarker); ok {
		return ProvideAnalysis{Text: text}
	}
	if text, ok := after(reply, AskMarker); ok {
		return AskUser{Question: text}
	}
	return ProvideAnalysis{Text: reply}
}

// FinalAnalysis returns the text following the completion marker, trimmed.
// ok is false when the reply has no completion marker.
func FinalAnalysis(reply string) (text string, ok bool) {
	return after(reply, CompleteMarker)
}

// after returns everything following the first occurrence of marker, trimmed.
func after(reply, marker string) (string, bool) {
	idx := strings.Index(reply, marker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(reply[idx+len(marker):]), true
}

func parseToolCall(reply string) Action {
	var line string
	for _, l := range strings.Split(reply, "\n") {
		if strings.Contains(l, ToolMarker) {
			line = l
			break
		}
	}
	_, rest, _ := strings.Cut(line, ToolMarker)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ProvideAnalysis{Text: "Unknown tool requested: "}
	}

	name := fields[0]
	id, ok := tools.Lookup(name)
	if !ok {
		return ProvideAnalysis{Text: "Unknown tool requested: " + name}
	}

	// The first occurrence of a flag wins. A recognized flag consumes the
	// following token; anything else is skipped.
	var args tools.Args
	seen := map[string]bool{}
	flags := fields[1:]
	for i := 0; i < len(flags); i++ {
		flag := flags[i]
		if !isFlag(flag) || i+1 >= len(flags) {
			continue
		}
		value := flags[i+1]
		i++
		if seen[flag] {
			continue
		}
		seen[flag] = true
		switch flag {
		case "--namespace":
			args.Namespace = value
		case "--pod":
			args.Pod = value
		case "--service":
			args.Service = value
		case "--lines":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				args.Lines = &n
			}
		}
	}
	return RunTool{Tool: id, Args: args}
}

func isFlag(s string) bool {
	switch s {
	case "--namespace", "--pod", "--service", "--lines":
		return true
	}
	return false
}
