package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/knownissues"
	"github.com/moolen/raid/internal/lifecycle"
	"github.com/moolen/raid/internal/mcp"
	mcphttp "github.com/moolen/raid/internal/mcp/transport/http"
	"github.com/moolen/raid/internal/mcp/transport/stdio"
)

var (
	httpAddr        string
	transportType   string
	mcpEndpointPath string
	mcpNoDiagnose   bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol (MCP) server that exposes the diagnostic
tools, the known issues catalog and complete investigations to AI assistants.

Supports two transport modes:
  - http: HTTP server mode (default, suitable for independent deployment)
  - stdio: Standard input/output mode (for subprocess-based MCP clients)

HTTP mode includes /health and /metrics endpoints.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&httpAddr, "http-addr", getEnv("MCP_HTTP_ADDR", ":8082"), "HTTP server address (host:port)")
	mcpCmd.Flags().StringVar(&transportType, "transport", "http", "Transport type: http or stdio")
	mcpCmd.Flags().StringVar(&mcpEndpointPath, "mcp-endpoint", getEnv("MCP_ENDPOINT", mcphttp.DefaultEndpointPath), "HTTP endpoint path for MCP requests")
	mcpCmd.Flags().BoolVar(&mcpNoDiagnose, "no-diagnose", false, "Do not expose the diagnose tool")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// transport is a lifecycle component that also reports when it stops
// serving on its own.
type transport interface {
	lifecycle.Component
	Done() <-chan error
}

type httpTransport struct{ *mcphttp.Transport }

func (t httpTransport) Done() <-chan error { return t.Err() }

func runMCP(cmd *cobra.Command, _ []string) error {
	if transportType != "http" && transportType != "stdio" {
		return fmt.Errorf("invalid transport %q (must be http or stdio)", transportType)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("Shutdown: %v", err)
		}
	}()
	a.quiet = true
	a.logger.Info("Starting raid MCP server %s (transport: %s)", Version, transportType)

	opts := mcp.Options{
		Version:  Version,
		Dispatch: a.table,
		Issues:   a.issues,
	}
	if !mcpNoDiagnose {
		diagnoser, err := a.diagnoser(cmd.Context())
		if err != nil {
			return err
		}
		opts.Diagnoser = diagnoser
	}
	srv, err := mcp.NewServer(opts)
	if err != nil {
		return err
	}
	a.logger.Debug("Serving tools: %v", srv.ToolNames())

	if file := a.cfg.KnownIssue.File; file != "" {
		w, err := knownissues.NewWatcher(a.issues, knownissues.WatcherConfig{FilePath: file})
		if err != nil {
			return err
		}
		if err := a.manager.Register(w); err != nil {
			return err
		}
	}

	var t transport
	switch transportType {
	case "http":
		t = httpTransport{mcphttp.NewTransport(srv.MCPServer(), mcphttp.Config{
			Addr:         httpAddr,
			EndpointPath: mcpEndpointPath,
			Version:      Version,
			Gatherer:     a.promRegistry,
		})}
	case "stdio":
		t = stdio.NewTransportWithIO(srv.MCPServer(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	}
	if err := a.manager.Register(t, a.tracing); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down MCP server...")
	case err, ok := <-t.Done():
		if ok && err != nil {
			return fmt.Errorf("MCP transport failed: %w", err)
		}
		a.logger.Info("MCP transport closed")
	}
	return nil
}

// diagnoser runs diagnose calls as fresh sessions saved to the history
// database.
func (a *app) diagnoser(ctx context.Context) (*mcp.SessionDiagnoser, error) {
	p, err := a.newProvider()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return &mcp.SessionDiagnoser{
		NewSession: func(budget int) (*session.Session, error) {
			return a.newSession(p, sessionOptions{budget: budget, noAudit: true})
		},
		SystemContext: func(ctx context.Context) string {
			return a.systemContext(ctx, a.hostInfo(ctx), false)
		},
		Save: store.SaveSession,
	}, nil
}
