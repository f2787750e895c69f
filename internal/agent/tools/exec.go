package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single command when none is configured.
const DefaultCommandTimeout = 30 * time.Second

// CommandExecutor runs catalog tools as local processes.
type CommandExecutor struct {
	timeout  time.Duration
	lookPath func(file string) (string, error)
	command  func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewCommandExecutor creates an executor with the given per-command timeout.
func NewCommandExecutor(timeout time.Duration) *CommandExecutor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandExecutor{
		timeout:  timeout,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

func (e *CommandExecutor) Name() string { return "exec" }

// Supports reports true for every catalog tool; missing binaries surface as
// failed results.
func (e *CommandExecutor) Supports(id ID) bool {
	_, ok := Get(id)
	return ok
}

// Available reports whether the binary behind a tool is on PATH.
func (e *CommandExecutor) Available(id ID) bool {
	argv, err := Command(id, Args{Pod: "x", Service: "x"})
	if err != nil {
		return false
	}
	_, err = e.lookPath(argv[0])
	return err == nil
}

func (e *CommandExecutor) Run(ctx context.Context, id ID, args Args) Result {
	argv, err := Command(id, args)
	if err != nil {
		return Failure(id, args, err)
	}
	result := Result{ToolName: string(id), Command: strings.Join(argv, " ")}

	if _, err := e.lookPath(argv[0]); err != nil {
		result.Error = fmt.Sprintf("%s not found in PATH", argv[0])
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := e.command(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	output := stdout.String()
	if n, fromEnd, ok := lineLimit(id, args); ok {
		output = limitLines(output, n, fromEnd)
	}
	result.Output = output

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.Error = fmt.Sprintf("command timed out after %s", e.timeout)
		case errors.As(err, &exitErr):
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(output)
			}
			result.Error = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), msg)
		default:
			result.Error = err.Error()
		}
		return result
	}

	result.Success = true
	return result
}
