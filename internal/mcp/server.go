// Package mcp exposes the diagnostic tool catalog, the known-issue catalog
// and complete diagnostic sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/knownissues"
	"github.com/moolen/raid/internal/logging"
)

// ServerName is announced to MCP clients.
const ServerName = "raid"

// Tool is one MCP tool implementation. Execute receives the raw call
// arguments. A string result is returned verbatim, anything else as
// indented JSON.
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// Options wires the server to the rest of the process.
type Options struct {
	Version string

	// Dispatch runs catalog tools.
	Dispatch *dispatch.Table

	// Issues backs known_issues_search. Nil disables the tool.
	Issues *knownissues.Database

	// Diagnoser backs the diagnose tool. Nil disables the tool.
	Diagnoser Diagnoser
}

// Server wraps the mcp-go server.
type Server struct {
	mcpServer *server.MCPServer
	tools     map[string]Tool
	logger    *logging.Logger
}

// NewServer registers all tools and prompts.
func NewServer(opts Options) (*Server, error) {
	if opts.Dispatch == nil {
		return nil, fmt.Errorf("dispatch table is required")
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			ServerName,
			opts.Version,
			server.WithToolCapabilities(false),
			server.WithPromptCapabilities(false),
			server.WithRecovery(),
			server.WithLogging(),
		),
		tools:  make(map[string]Tool),
		logger: logging.GetLogger("mcp"),
	}

	for _, spec := range tools.Catalog() {
		s.registerTool(string(spec.ID), spec.Description, &catalogTool{id: spec.ID, table: opts.Dispatch}, catalogSchema(spec))
	}
	if opts.Issues != nil {
		s.registerTool("known_issues_search",
			"Search the known-issue catalog by free text, or score catalog entries against observed output",
			&knownIssuesTool{db: opts.Issues}, knownIssuesSchema())
	}
	if opts.Diagnoser != nil {
		s.registerTool("diagnose",
			"Run a complete non-interactive diagnostic session for a problem description and return the analysis",
			&diagnoseTool{diagnoser: opts.Diagnoser}, diagnoseSchema())
	}
	s.registerPrompts()

	s.logger.Debug("Registered %d MCP tools", len(s.tools))
	return s, nil
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

func (s *Server) registerTool(name, description string, tool Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal schema for tool %s: %v", name, err))
	}
	s.mcpServer.AddTool(mcp.NewToolWithRawSchema(name, description, schemaJSON), s.createToolHandler(name, tool))
}

func (s *Server) createToolHandler(name string, tool Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		s.logger.Debug("MCP tool call %s", name)
		result, err := tool.Execute(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func (s *Server) registerPrompts() {
	prompt := mcp.Prompt{
		Name:        "diagnose_problem",
		Description: "Investigate a problem on this host or cluster with the diagnostic tools",
		Arguments: []mcp.PromptArgument{
			{Name: "problem", Description: "Description of the observed problem", Required: true},
			{Name: "namespace", Description: "Optional Kubernetes namespace to focus on", Required: false},
		},
	}

	s.mcpServer.AddPrompt(prompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		problem := request.Params.Arguments["problem"]
		if problem == "" {
			return nil, fmt.Errorf("argument problem is required")
		}
		namespace := request.Params.Arguments["namespace"]

		return &mcp.GetPromptResult{
			Description: "Diagnostic investigation workflow",
			Messages: []mcp.PromptMessage{{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(diagnosePromptText(problem, namespace)),
			}},
		}, nil
	})
}

func diagnosePromptText(problem, namespace string) string {
	text := fmt.Sprintf("Investigate the following problem: %s\n\n", problem)
	text += "Start with known_issues_search using the problem description. " +
		"Then gather evidence with the diagnostic tools, one tool at a time, " +
		"starting with broad views (uptime, free, df, systemctl_failed, kubectl_get_pods) " +
		"before narrowing down to logs and descriptions of failing components. " +
		"Finish with the root cause, the evidence for it and the commands that fix it."
	if namespace != "" {
		text += fmt.Sprintf("\n\nFocus on Kubernetes namespace %s and pass it as the namespace argument.", namespace)
	}
	return text
}
