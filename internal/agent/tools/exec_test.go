package tools

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scriptedExecutor replaces the command with a shell snippet and records the
// argv it was asked to run.
func scriptedExecutor(script string, timeout time.Duration) (*CommandExecutor, *[]string) {
	var seen []string
	e := NewCommandExecutor(timeout)
	e.lookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	e.command = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		seen = append([]string{name}, arg...)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return e, &seen
}

func TestCommandExecutor_Success(t *testing.T) {
	e, seen := scriptedExecutor(`printf 'line1\nline2\n'`, time.Second)

	res := e.Run(context.Background(), JournalctlService, Args{Service: "kubelet", Lines: IntPtr(10)})

	assert.True(t, res.Success)
	assert.Equal(t, "line1\nline2\n", res.Output)
	assert.Equal(t, "journalctl -u kubelet --no-pager -n 10", res.Command)
	assert.Equal(t, []string{"journalctl", "-u", "kubelet", "--no-pager", "-n", "10"}, *seen)
	assert.Empty(t, res.Error)
}

func TestCommandExecutor_NonZeroExit(t *testing.T) {
	e, _ := scriptedExecutor(`echo "unit not found" >&2; exit 4`, time.Second)

	res := e.Run(context.Background(), SystemctlStatus, Args{Service: "nope"})

	assert.False(t, res.Success)
	assert.Equal(t, "exit status 4: unit not found", res.Error)
}

func TestCommandExecutor_Timeout(t *testing.T) {
	e, _ := scriptedExecutor(`exec sleep 5`, 50*time.Millisecond)

	res := e.Run(context.Background(), Uptime, Args{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestCommandExecutor_MissingBinary(t *testing.T) {
	e, seen := scriptedExecutor(`true`, time.Second)
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	res := e.Run(context.Background(), KubectlGetPods, Args{})

	assert.False(t, res.Success)
	assert.Equal(t, "kubectl not found in PATH", res.Error)
	assert.Nil(t, *seen, "command must not be started")
}

func TestCommandExecutor_LineLimit(t *testing.T) {
	e, _ := scriptedExecutor(`printf 'USER PID\na 1\nb 2\nc 3\n'`, time.Second)

	res := e.Run(context.Background(), PsAux, Args{Lines: IntPtr(2)})

	assert.True(t, res.Success)
	assert.Equal(t, "USER PID\na 1\nb 2\n", res.Output)
}

func TestCommandExecutor_MissingArgument(t *testing.T) {
	e, seen := scriptedExecutor(`true`, time.Second)

	res := e.Run(context.Background(), KubectlDescribePod, Args{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "requires --pod")
	assert.Nil(t, *seen)
}
