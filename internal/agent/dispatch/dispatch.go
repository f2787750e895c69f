// Package dispatch validates tool calls before handing them to an executor.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/moolen/raid/internal/agent/tools"
)

var (
	// ErrUnknownTool is reported for ids outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMissingArgument is reported when a required argument is absent.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrInvalidArgument is reported for argument values no tool accepts.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Executor runs a validated tool call.
type Executor interface {
	Run(ctx context.Context, id tools.ID, args tools.Args) tools.Result
}

// Table checks required arguments and forwards valid calls to an Executor.
// Invalid calls produce a failed result and never reach the executor.
type Table struct {
	executor Executor
}

// New creates a dispatch table in front of executor.
func New(executor Executor) *Table {
	return &Table{executor: executor}
}

// Dispatch runs the tool or returns a synthetic failed result.
func (t *Table) Dispatch(ctx context.Context, id tools.ID, args tools.Args) tools.Result {
	if err := Validate(id, args); err != nil {
		return tools.Failure(id, args, err)
	}
	return t.executor.Run(ctx, id, args)
}

// Validate returns ErrUnknownTool, ErrMissingArgument or ErrInvalidArgument
// (wrapped with the offending name) when the call cannot be executed.
func Validate(id tools.ID, args tools.Args) error {
	if _, ok := tools.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	if missing := tools.Missing(id, args); len(missing) > 0 {
		return fmt.Errorf("%w: %s requires --%s", ErrMissingArgument, id, missing[0])
	}
	if args.Lines != nil && *args.Lines < 0 {
		return fmt.Errorf("%w: %s --lines must not be negative, got %d", ErrInvalidArgument, id, *args.Lines)
	}
	return nil
}
