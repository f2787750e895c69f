package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moolen/raid/internal/agent/dispatch"
	"github.com/moolen/raid/internal/agent/tools"
	"github.com/moolen/raid/internal/knownissues"
)

var argDescriptions = map[tools.Arg]string{
	tools.ArgNamespace: "Kubernetes namespace. Omit for all namespaces",
	tools.ArgPod:       "Pod name",
	tools.ArgService:   "systemd unit name",
	tools.ArgLines:     "Number of lines to return",
}

func catalogSchema(spec tools.Spec) map[string]interface{} {
	properties := map[string]interface{}{}
	for _, arg := range append(append([]tools.Arg{}, spec.Requires...), spec.Accepts...) {
		typ := "string"
		if arg == tools.ArgLines {
			typ = "integer"
		}
		properties[string(arg)] = map[string]interface{}{
			"type":        typ,
			"description": argDescriptions[arg],
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(spec.Requires) > 0 {
		required := make([]string, len(spec.Requires))
		for i, arg := range spec.Requires {
			required[i] = string(arg)
		}
		schema["required"] = required
	}
	return schema
}

// catalogTool runs one catalog tool through the dispatch table.
type catalogTool struct {
	id    tools.ID
	table *dispatch.Table
}

func (t *catalogTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var args tools.Args
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	res := t.table.Dispatch(ctx, t.id, args)
	if !res.Success {
		return nil, fmt.Errorf("%s failed: %s", res.Command, res.Body())
	}
	return fmt.Sprintf("$ %s\n\n%s", res.Command, res.Output), nil
}

func knownIssuesSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Free text searched in titles, descriptions, keywords and tags",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Observed output or symptoms to score against issue patterns. Takes precedence over query",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Restrict scoring to one category: " + categoryList(),
			},
		},
	}
}

func categoryList() string {
	cats := knownissues.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

type knownIssuesInput struct {
	Query    string `json:"query"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

type knownIssuesTool struct {
	db *knownissues.Database
}

func (t *knownIssuesTool) Execute(_ context.Context, input json.RawMessage) (interface{}, error) {
	var in knownIssuesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	var category knownissues.Category
	if in.Category != "" {
		c, err := knownissues.ParseCategory(in.Category)
		if err != nil {
			return nil, err
		}
		category = c
	}

	switch {
	case strings.TrimSpace(in.Text) != "":
		matches := t.db.Match(in.Text, category)
		if len(matches) == 0 {
			return "No known issues match the given text.", nil
		}
		return matches, nil
	case strings.TrimSpace(in.Query) != "":
		issues := t.db.Search(in.Query)
		if len(issues) == 0 {
			return fmt.Sprintf("No known issues found for %q.", in.Query), nil
		}
		return issues, nil
	}
	return nil, fmt.Errorf("either query or text is required")
}

func diagnoseSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"problem": map[string]interface{}{
				"type":        "string",
				"description": "Description of the problem to investigate",
			},
			"max_tool_calls": map[string]interface{}{
				"type":        "integer",
				"description": "Optional tool call budget for the session",
			},
		},
		"required": []string{"problem"},
	}
}

type diagnoseInput struct {
	Problem      string `json:"problem"`
	MaxToolCalls int    `json:"max_tool_calls"`
}

type diagnoseTool struct {
	diagnoser Diagnoser
}

func (t *diagnoseTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in diagnoseInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Problem) == "" {
		return nil, fmt.Errorf("problem is required")
	}
	if in.MaxToolCalls < 0 {
		return nil, fmt.Errorf("max_tool_calls must not be negative")
	}
	return t.diagnoser.Diagnose(ctx, in.Problem, in.MaxToolCalls)
}
