package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	tr := NewTransport(server.NewMCPServer("raid", "test"), cfg)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Stop(context.Background()) })
	return tr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	tr := startTransport(t, Config{})

	status, body := get(t, "http://"+tr.Addr()+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "raid_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	tr := startTransport(t, Config{Gatherer: reg})
	status, body := get(t, "http://"+tr.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "raid_test_total 1")
}

func TestMetricsDisabled(t *testing.T) {
	tr := startTransport(t, Config{})
	status, _ := get(t, "http://"+tr.Addr()+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRootEndpoint(t *testing.T) {
	tr := startTransport(t, Config{Version: "1.2.3", EndpointPath: "rpc"})

	status, body := get(t, "http://"+tr.Addr()+"/")
	require.Equal(t, http.StatusOK, status)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "/rpc", info["endpoint"])
}

func TestMCPEndpoint(t *testing.T) {
	tr := startTransport(t, Config{})

	req, err := http.NewRequest(http.MethodPost, "http://"+tr.Addr()+DefaultEndpointPath,
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"id":1`)
}

func TestStartFailsOnBusyPort(t *testing.T) {
	tr := startTransport(t, Config{})

	other := NewTransport(server.NewMCPServer("raid", "test"), Config{Addr: tr.Addr()})
	assert.Error(t, other.Start(context.Background()))
	assert.NoError(t, other.Stop(context.Background()))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/mcp", normalizePath(""))
	assert.Equal(t, "/rpc", normalizePath("rpc"))
	assert.Equal(t, "/x/y", normalizePath("/x/y"))
}
