// Package http serves the MCP server over streamable HTTP next to health
// and Prometheus endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moolen/raid/internal/logging"
)

// DefaultEndpointPath is where MCP requests are accepted.
const DefaultEndpointPath = "/mcp"

// Config configures the transport.
type Config struct {
	Addr         string
	EndpointPath string
	Version      string

	// Gatherer is exposed on /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Transport implements lifecycle.Component.
type Transport struct {
	cfg      Config
	server   *http.Server
	listener net.Listener
	errCh    chan error
	logger   *logging.Logger
}

// NewTransport creates the transport. It does not listen until Start.
func NewTransport(mcpServer *server.MCPServer, cfg Config) *Transport {
	cfg.EndpointPath = normalizePath(cfg.EndpointPath)
	t := &Transport{
		cfg:    cfg,
		errCh:  make(chan error, 1),
		logger: logging.GetLogger("mcp.http"),
	}
	t.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           t.handler(mcpServer),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return t
}

func normalizePath(p string) string {
	if p == "" {
		return DefaultEndpointPath
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func (t *Transport) handler(mcpServer *server.MCPServer) http.Handler {
	mux := http.NewServeMux()

	// Stateless sessions keep clients that never send a session id working.
	mux.Handle(t.cfg.EndpointPath, server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath(t.cfg.EndpointPath),
		server.WithStateLess(true),
	))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if t.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(t.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":     "raid MCP server",
			"version":  t.cfg.Version,
			"endpoint": t.cfg.EndpointPath,
		})
	})

	return mux
}

// Name implements lifecycle.Component.
func (t *Transport) Name() string { return "mcp-http" }

// Start binds the listener and serves in the background.
func (t *Transport) Start(context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.Addr, err)
	}
	t.listener = ln
	t.logger.Info("MCP server listening on %s (endpoint %s)", ln.Addr(), t.cfg.EndpointPath)

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.errCh <- err
		}
		close(t.errCh)
	}()
	return nil
}

// Addr is the bound address after Start.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return t.cfg.Addr
	}
	return t.listener.Addr().String()
}

// Err delivers a serve error and is closed when the server stops.
func (t *Transport) Err() <-chan error { return t.errCh }

// Stop shuts the server down gracefully.
func (t *Transport) Stop(ctx context.Context) error {
	if t.listener == nil {
		return nil
	}
	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	t.logger.Info("MCP HTTP server stopped")
	return nil
}
