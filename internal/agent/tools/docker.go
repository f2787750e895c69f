package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
)

// DockerAPI is the subset of the Docker engine client used by DockerBackend.
type DockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
}

// DockerBackend answers docker_ps and docker_stats through the engine API.
// It is used when no docker CLI is installed.
type DockerBackend struct {
	api DockerAPI
	now func() time.Time
}

// NewDockerClient connects using DOCKER_HOST and friends with API version
// negotiation.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewDockerBackend wraps an engine client.
func NewDockerBackend(api DockerAPI) *DockerBackend {
	return &DockerBackend{api: api, now: time.Now}
}

func (b *DockerBackend) Name() string { return "docker-api" }

func (b *DockerBackend) Supports(id ID) bool {
	return id == DockerPs || id == DockerStats
}

func (b *DockerBackend) Run(ctx context.Context, id ID, args Args) Result {
	result := Result{ToolName: string(id), Command: CommandString(id, args)}
	start := time.Now()

	var (
		out string
		err error
	)
	switch id {
	case DockerPs:
		out, err = b.ps(ctx)
	case DockerStats:
		out, err = b.stats(ctx)
	default:
		err = fmt.Errorf("tool %s is not served by the Docker API backend", id)
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Output = out
	return result
}

func (b *DockerBackend) ps(ctx context.Context) (string, error) {
	list, err := b.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}

	t := newTable("CONTAINER ID", "IMAGE", "CREATED", "STATUS", "NAMES")
	for _, c := range list {
		created := units.HumanDuration(b.now().Sub(time.Unix(c.Created, 0))) + " ago"
		t.row(shortID(c.ID), c.Image, created, c.Status, containerName(c.Names))
	}
	return t.String(), nil
}

func (b *DockerBackend) stats(ctx context.Context) (string, error) {
	list, err := b.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}

	t := newTable("CONTAINER ID", "NAME", "CPU %", "MEM USAGE / LIMIT", "MEM %")
	for _, c := range list {
		s, err := b.readStats(ctx, c.ID)
		if err != nil {
			t.row(shortID(c.ID), containerName(c.Names), "--", "--", "--")
			continue
		}
		mem := s.MemoryStats.Usage
		if cache, ok := s.MemoryStats.Stats["inactive_file"]; ok && cache < mem {
			mem -= cache
		}
		memPct := 0.0
		if s.MemoryStats.Limit > 0 {
			memPct = float64(mem) / float64(s.MemoryStats.Limit) * 100
		}
		t.row(shortID(c.ID), containerName(c.Names),
			fmt.Sprintf("%.2f%%", cpuPercent(s)),
			units.BytesSize(float64(mem))+" / "+units.BytesSize(float64(s.MemoryStats.Limit)),
			fmt.Sprintf("%.2f%%", memPct))
	}
	return t.String(), nil
}

func (b *DockerBackend) readStats(ctx context.Context, id string) (*container.StatsResponse, error) {
	reader, err := b.api.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return nil, err
	}
	defer reader.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &s, nil
}

func cpuPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerName(names []string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, "/"))
	}
	return strings.Join(out, ",")
}
