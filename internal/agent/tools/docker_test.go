package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	containers []container.Summary
	stats      map[string]container.StatsResponse
	listErr    error
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if opts.All {
		return f.containers, nil
	}
	var running []container.Summary
	for _, c := range f.containers {
		if c.State == "running" {
			running = append(running, c)
		}
	}
	return running, nil
}

func (f *fakeDocker) ContainerStatsOneShot(_ context.Context, id string) (container.StatsResponseReader, error) {
	s, ok := f.stats[id]
	if !ok {
		return container.StatsResponseReader{}, errors.New("no such container")
	}
	raw, _ := json.Marshal(s)
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(string(raw)))}, nil
}

func testDocker() *fakeDocker {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &fakeDocker{
		containers: []container.Summary{
			{ID: "0123456789abcdef", Image: "nginx:1.27", Names: []string{"/proxy"}, State: "running",
				Status: "Up 2 hours", Created: now.Add(-3 * time.Hour).Unix()},
			{ID: "fedcba9876543210", Image: "redis:7", Names: []string{"/cache"}, State: "exited",
				Status: "Exited (137) 5 minutes ago", Created: now.Add(-time.Hour).Unix()},
		},
		stats: map[string]container.StatsResponse{
			"0123456789abcdef": {
				CPUStats: container.CPUStats{
					CPUUsage:    container.CPUUsage{TotalUsage: 400},
					SystemUsage: 2000,
					OnlineCPUs:  2,
				},
				PreCPUStats: container.CPUStats{
					CPUUsage:    container.CPUUsage{TotalUsage: 200},
					SystemUsage: 1000,
				},
				MemoryStats: container.MemoryStats{Usage: 64 * 1024 * 1024, Limit: 256 * 1024 * 1024},
			},
		},
	}
}

func TestDockerBackend_Ps(t *testing.T) {
	b := NewDockerBackend(testDocker())
	b.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	res := b.Run(context.Background(), DockerPs, Args{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "docker ps -a", res.Command)
	assert.Contains(t, res.Output, "0123456789ab")
	assert.NotContains(t, res.Output, "0123456789abcdef")
	assert.Contains(t, res.Output, "proxy")
	assert.Contains(t, res.Output, "cache")
	assert.Contains(t, res.Output, "Exited (137)")
	assert.Contains(t, res.Output, "3 hours ago")
}

func TestDockerBackend_Stats(t *testing.T) {
	b := NewDockerBackend(testDocker())

	res := b.Run(context.Background(), DockerStats, Args{})

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "proxy")
	assert.NotContains(t, res.Output, "cache", "stopped containers are not sampled")
	assert.Contains(t, res.Output, "40.00%")
	assert.Contains(t, res.Output, "25.00%")
}

func TestDockerBackend_ListError(t *testing.T) {
	b := NewDockerBackend(&fakeDocker{listErr: errors.New("daemon not reachable")})

	res := b.Run(context.Background(), DockerPs, Args{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "daemon not reachable")
}

func TestCPUPercent(t *testing.T) {
	s := &container.StatsResponse{}
	assert.Zero(t, cpuPercent(s))
}
