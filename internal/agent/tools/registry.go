package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/raid/internal/logging"
)

// Backend executes catalog tools. Implementations report failures through
// the returned Result, never by panicking.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Supports reports whether the backend can run the tool.
	Supports(id ID) bool

	// Run executes the tool.
	Run(ctx context.Context, id ID, args Args) Result
}

// Registry routes each tool to the first registered backend that supports
// it, times the execution and truncates oversized output.
type Registry struct {
	backends       []Backend
	maxOutputBytes int
	mu             sync.RWMutex
	logger         *logging.Logger
}

// NewRegistry creates a registry. A maxOutputBytes of zero uses
// MaxOutputBytes.
func NewRegistry(maxOutputBytes int, backends ...Backend) *Registry {
	if maxOutputBytes <= 0 {
		maxOutputBytes = MaxOutputBytes
	}
	r := &Registry{
		maxOutputBytes: maxOutputBytes,
		logger:         logging.GetLogger("tools"),
	}
	for _, b := range backends {
		r.register(b)
	}
	return r
}

func (r *Registry) register(b Backend) {
	r.backends = append(r.backends, b)
	r.logger.Debug("registered backend %s", b.Name())
}

// Prepend registers a backend ahead of all existing ones.
func (r *Registry) Prepend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append([]Backend{b}, r.backends...)
	r.logger.Debug("registered backend %s (preferred)", b.Name())
}

// BackendFor returns the backend that would run the tool.
func (r *Registry) BackendFor(id ID) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.Supports(id) {
			return b, true
		}
	}
	return nil, false
}

// Routes maps every catalog tool to the name of its backend.
func (r *Registry) Routes() map[ID]string {
	out := make(map[ID]string)
	for _, s := range Catalog() {
		if b, ok := r.BackendFor(s.ID); ok {
			out[s.ID] = b.Name()
		}
	}
	return out
}

// Run executes a tool.
func (r *Registry) Run(ctx context.Context, id ID, args Args) Result {
	if _, ok := Get(id); !ok {
		return Failure(id, args, fmt.Errorf("tool %q not found", id))
	}
	b, ok := r.BackendFor(id)
	if !ok {
		return Failure(id, args, fmt.Errorf("no backend available for tool %q", id))
	}

	start := time.Now()
	result := b.Run(ctx, id, args)
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	if result.ToolName == "" {
		result.ToolName = string(id)
	}

	r.logger.DebugWithFields("tool executed",
		logging.Field("tool", string(id)),
		logging.Field("backend", b.Name()),
		logging.Field("success", result.Success),
		logging.Field("duration_ms", result.ExecutionTimeMs))

	return result.Truncate(r.maxOutputBytes)
}

// StaticBackend answers every tool with canned output. It backs dry runs
// and tests that must not touch the host.
type StaticBackend struct {
	responses map[ID]Result
	delay     time.Duration
}

// NewStaticBackend creates a backend returning the given responses. Tools
// without a response get a generic successful result.
func NewStaticBackend(responses map[ID]Result, delay time.Duration) *StaticBackend {
	return &StaticBackend{responses: responses, delay: delay}
}

// NewDemoBackend returns a static backend describing a node with a crash
// looping pod.
func NewDemoBackend() *StaticBackend {
	return NewStaticBackend(map[ID]Result{
		KubectlGetPods: {Success: true, Output: "NAME                      READY   STATUS             RESTARTS   AGE   IP           NODE\n" +
			"web-7c9f8d6b5-x2k4p       0/1     CrashLoopBackOff   15         42m   10.244.0.12  node-1\n" +
			"db-0                      1/1     Running            0          3d    10.244.0.8   node-1\n"},
		KubectlDescribePod: {Success: true, Output: "Name: web-7c9f8d6b5-x2k4p\nState: Waiting (CrashLoopBackOff)\n" +
			"Last State: Terminated (OOMKilled), Exit Code 137\nLimits: memory 128Mi\n"},
		KubectlLogs: {Success: true, Output: "starting web server\nloading cache\n"},
		Free:        {Success: true, Output: "              total        used        free\nMem:           7.7Gi       6.9Gi       312Mi\n"},
		Df:          {Success: true, Output: "Filesystem      Size  Used Avail Use% Mounted on\n/dev/sda1        50G   21G   29G  42% /\n"},
	}, 200*time.Millisecond)
}

func (b *StaticBackend) Name() string     { return "static" }
func (b *StaticBackend) Supports(ID) bool { return true }

func (b *StaticBackend) Run(ctx context.Context, id ID, args Args) Result {
	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return Failure(id, args, ctx.Err())
		case <-time.After(b.delay):
		}
	}

	res, ok := b.responses[id]
	if !ok {
		res = Result{Success: true, Output: fmt.Sprintf("(no output recorded for %s)", id)}
	}
	res.ToolName = string(id)
	res.Command = CommandString(id, args)
	res.ExecutionTimeMs = b.delay.Milliseconds()
	return res
}
