// Package transcript holds the message history of a diagnostic session and
// renders it into the prompt sent to the model.
package transcript

import (
	"fmt"
	"strings"

	"github.com/moolen/raid/internal/agent/action"
	"github.com/moolen/raid/internal/agent/tools"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Label is the upper-case prefix used when rendering.
func (r Role) Label() string {
	return strings.ToUpper(string(r))
}

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Tool renders a tool result as a self-describing tool message: the tool
// id, the command line, the status and the output or error.
func Tool(res tools.Result) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", res.ToolName)
	fmt.Fprintf(&b, "Command: %s\n", res.Command)
	fmt.Fprintf(&b, "Status: %s\n", res.Status())
	if res.Success {
		b.WriteString("Output:\n")
		b.WriteString(strings.TrimRight(res.Output, "\n"))
	} else {
		b.WriteString("Error: ")
		b.WriteString(res.Body())
		if out := strings.TrimSpace(res.Output); out != "" {
			b.WriteString("\nOutput:\n")
			b.WriteString(out)
		}
	}
	return Message{Role: RoleTool, Content: b.String()}
}

// Build renders the messages in order followed by a footer with the
// current budget and the reply grammar. The footer is not part of the
// history and is regenerated on every call.
//
// The whole history is replayed every turn, so prompt size grows with each
// tool call.
func Build(messages []Message, used, budget int) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role.Label())
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString(Footer(used, budget))
	return b.String()
}

// Footer renders the per-turn reminder of budget and reply grammar.
func Footer(used, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool calls used: %d/%d\n\n", used, budget)
	b.WriteString("Respond with exactly one of:\n")
	fmt.Fprintf(&b, "%s <tool_name> [--namespace <namespace>] [--pod <pod>] [--service <service>] [--lines <n>]\n", action.ToolMarker)
	fmt.Fprintf(&b, "%s <your analysis of the evidence so far>\n", action.AnalyzeMarker)
	fmt.Fprintf(&b, "%s <root cause and recommended fix>\n", action.CompleteMarker)
	return b.String()
}
