// Package sysinfo collects host facts and baseline diagnostics that seed the
// system context of a diagnostic session.
package sysinfo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/moolen/raid/internal/logging"
)

// Info describes the local host.
type Info struct {
	Hostname    string        `json:"hostname"`
	OS          string        `json:"os"`
	Kernel      string        `json:"kernel"`
	CPU         string        `json:"cpu"`
	CPUCount    int           `json:"cpu_count"`
	TotalMemory uint64        `json:"total_memory"`
	FreeMemory  uint64        `json:"free_memory"`
	TotalDisk   uint64        `json:"total_disk"`
	FreeDisk    uint64        `json:"free_disk"`
	Uptime      time.Duration `json:"uptime"`

	IsKubernetes              bool   `json:"is_kubernetes"`
	KubernetesVersion         string `json:"kubernetes_version,omitempty"`
	ContainerRuntimeAvailable bool   `json:"container_runtime_available"`
}

// VersionFunc returns the Kubernetes server version.
type VersionFunc func(ctx context.Context) (string, error)

// Collector gathers Info. The zero value is not usable; use NewCollector.
type Collector struct {
	// Root prefixes every file path read, for tests.
	Root string
	// DiskPath is the filesystem reported as disk.
	DiskPath string

	kubeVersion VersionFunc
	getenv      func(string) string
	platform    platform
	logger      *logging.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithKubernetesVersion sets the function used to query the cluster version.
func WithKubernetesVersion(f VersionFunc) Option {
	return func(c *Collector) { c.kubeVersion = f }
}

// WithRoot reads files below root instead of /.
func WithRoot(root string) Option {
	return func(c *Collector) { c.Root = root }
}

// NewCollector creates a collector for the running host.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		DiskPath: "/",
		getenv:   os.Getenv,
		platform: hostPlatform{},
		logger:   logging.GetLogger("sysinfo"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers host facts. Individual probes that fail leave their
// fields empty; Collect itself never fails.
func Collect(ctx context.Context, opts ...Option) Info {
	return NewCollector(opts...).Collect(ctx)
}

// Collect gathers host facts.
func (c *Collector) Collect(ctx context.Context) Info {
	info := Info{
		OS:       c.osRelease(),
		CPU:      c.cpuModel(),
		CPUCount: runtime.NumCPU(),
	}

	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	if kernel, err := c.platform.kernel(); err == nil {
		info.Kernel = kernel
	} else {
		c.logger.Debug("kernel probe failed: %v", err)
	}
	if mem, err := c.platform.memory(); err == nil {
		info.TotalMemory, info.FreeMemory, info.Uptime = mem.total, mem.free, mem.uptime
	} else {
		c.logger.Debug("memory probe failed: %v", err)
	}
	if total, free, err := c.platform.disk(c.DiskPath); err == nil {
		info.TotalDisk, info.FreeDisk = total, free
	} else {
		c.logger.Debug("disk probe failed: %v", err)
	}

	info.IsKubernetes = c.inKubernetes()
	info.ContainerRuntimeAvailable = c.containerRuntime()

	if c.kubeVersion != nil {
		if v, err := c.kubeVersion(ctx); err == nil {
			info.KubernetesVersion = v
			info.IsKubernetes = true
		} else {
			c.logger.Debug("kubernetes version probe failed: %v", err)
		}
	}
	return info
}

func (c *Collector) path(p string) string {
	if c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Collector) exists(p string) bool {
	_, err := os.Stat(c.path(p))
	return err == nil
}

// osRelease builds "PRETTY_NAME (Build: id)" from /etc/os-release and falls
// back to GOOS.
func (c *Collector) osRelease() string {
	f, err := os.Open(c.path("/etc/os-release"))
	if err != nil {
		return runtime.GOOS
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"`)
	}

	name := fields["PRETTY_NAME"]
	if name == "" {
		name = fields["NAME"]
		if v := fields["VERSION"]; v != "" && name != "" {
			name += " " + v
		}
	}
	if name == "" {
		return runtime.GOOS
	}
	if id := fields["BUILD_ID"]; id != "" && id != "rolling" {
		name += fmt.Sprintf(" (Build: %s)", id)
	}
	return name
}

func (c *Collector) cpuModel() string {
	f, err := os.Open(c.path("/proc/cpuinfo"))
	if err != nil {
		return "Unknown CPU"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			if _, v, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return "Unknown CPU"
}

func (c *Collector) inKubernetes() bool {
	return c.getenv("KUBERNETES_SERVICE_HOST") != "" ||
		c.getenv("KUBERNETES_SERVICE_PORT") != "" ||
		c.exists("/var/run/secrets/kubernetes.io/serviceaccount/token")
}

func (c *Collector) containerRuntime() bool {
	for _, p := range []string{
		"/var/run/docker.sock",
		"/run/containerd/containerd.sock",
		"/run/podman/podman.sock",
		"/usr/bin/docker",
		"/usr/local/bin/docker",
	} {
		if c.exists(p) {
			return true
		}
	}
	return false
}

// Context renders the facts as the system context of a session.
func (i Info) Context() string {
	var b strings.Builder
	if i.Hostname != "" {
		fmt.Fprintf(&b, "Hostname: %s\n", i.Hostname)
	}
	fmt.Fprintf(&b, "Operating System: %s\n", i.OS)
	if i.Kernel != "" {
		fmt.Fprintf(&b, "Kernel: %s\n", i.Kernel)
	}
	fmt.Fprintf(&b, "CPU: %s (%d cores)\n", i.CPU, i.CPUCount)
	fmt.Fprintf(&b, "Memory: %s free of %s\n", size(i.FreeMemory), size(i.TotalMemory))
	fmt.Fprintf(&b, "Disk: %s free of %s\n", size(i.FreeDisk), size(i.TotalDisk))
	if i.Uptime > 0 {
		fmt.Fprintf(&b, "Uptime: %s\n", units.HumanDuration(i.Uptime))
	}
	if i.IsKubernetes {
		if i.KubernetesVersion != "" {
			fmt.Fprintf(&b, "Environment: Kubernetes cluster (%s)\n", i.KubernetesVersion)
		} else {
			b.WriteString("Environment: Kubernetes cluster\n")
		}
	}
	if i.ContainerRuntimeAvailable {
		b.WriteString("Container Runtime: Available\n")
	}
	return b.String()
}

func size(n uint64) string {
	if n == 0 {
		return "unknown"
	}
	return units.BytesSize(float64(n))
}
