package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moolen/raid/internal/logging"
)

// Server exposes a registry on /metrics. It implements lifecycle.Component.
type Server struct {
	addr     string
	srv      *http.Server
	listener net.Listener
	logger   *logging.Logger
}

// NewServer creates a server for g on addr.
func NewServer(addr string, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &Server{
		addr:   addr,
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logging.GetLogger("metrics"),
	}
}

// Name implements lifecycle.Component.
func (s *Server) Name() string { return "metrics-server" }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed: %v", err)
		}
	}()
	s.logger.Info("Serving metrics on %s/metrics", ln.Addr())
	return nil
}

// Addr is the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
