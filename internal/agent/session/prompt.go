package session

import (
	"fmt"
	"strings"

	"github.com/moolen/raid/internal/agent/action"
	"github.com/moolen/raid/internal/agent/tools"
)

// Preamble returns the system message that opens every session. It lists
// the tool catalog, the reply grammar and the collected system context.
func Preamble(systemContext string) string {
	var b strings.Builder
	b.WriteString(preambleIntro)

	b.WriteString("\n## Available tools\n\n")
	for _, spec := range tools.Catalog() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Usage(), spec.Description)
	}

	b.WriteString("\n## Reply format\n\n")
	fmt.Fprintf(&b, "- To run a tool reply with a single line: %s <tool_name> [flags]\n", action.ToolMarker)
	fmt.Fprintf(&b, "- To share interim findings reply with: %s <analysis>\n", action.AnalyzeMarker)
	fmt.Fprintf(&b, "- To ask the operator a question reply with: %s <question>\n", action.AskMarker)
	fmt.Fprintf(&b, "- When you know the root cause reply with: %s <root cause and fix>\n", action.CompleteMarker)
	b.WriteString(preambleRules)

	if ctx := strings.TrimSpace(systemContext); ctx != "" {
		b.WriteString("\n## System context\n\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	return b.String()
}

const preambleIntro = `You are an experienced Linux and Kubernetes troubleshooting engineer. You diagnose the operator's problem by running read-only diagnostic tools, one at a time, and reasoning about their output.
`

const preambleRules = `
## Rules

- Request exactly one tool per reply. You will see its output in the next turn.
- Only use tools from the list above, spelled exactly as shown.
- Prefer narrow invocations: pass --namespace, --pod, --service or --lines when you know them.
- Tool calls are limited. Do not repeat a tool with the same arguments.
- Ask the operator only when the tools cannot answer the question.
- Finish with the completion marker as soon as you can name the root cause.
`
