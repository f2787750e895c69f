// Package stdio serves the MCP server over newline-delimited JSON-RPC on
// stdin and stdout.
package stdio

import (
	"context"
	"errors"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/raid/internal/logging"
)

// Transport implements lifecycle.Component. Logs must not be written to
// stdout while it runs.
type Transport struct {
	stdio  *server.StdioServer
	stdin  io.Reader
	stdout io.Writer
	cancel context.CancelFunc
	done   chan error
	logger *logging.Logger
}

// NewTransport serves on the process stdin and stdout.
func NewTransport(mcpServer *server.MCPServer) *Transport {
	return NewTransportWithIO(mcpServer, os.Stdin, os.Stdout, os.Stderr)
}

// NewTransportWithIO serves on custom streams.
func NewTransportWithIO(mcpServer *server.MCPServer, stdin io.Reader, stdout, stderr io.Writer) *Transport {
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(stderr, "mcp: ", log.LstdFlags))
	return &Transport{
		stdio:  stdio,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan error, 1),
		logger: logging.GetLogger("mcp.stdio"),
	}
}

// Name implements lifecycle.Component.
func (t *Transport) Name() string { return "mcp-stdio" }

// Start serves in the background until stdin closes or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.logger.Info("Serving MCP on stdio")
	go func() {
		err := t.stdio.Listen(ctx, t.stdin, t.stdout)
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			err = nil
		}
		t.done <- err
		close(t.done)
	}()
	return nil
}

// Done delivers the serve result once the client disconnects.
func (t *Transport) Done() <-chan error { return t.done }

// Stop ends the serve loop.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
