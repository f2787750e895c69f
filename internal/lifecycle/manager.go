package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/moolen/raid/internal/logging"
)

// DefaultShutdownTimeout bounds the Stop call of each component.
const DefaultShutdownTimeout = 10 * time.Second

// Manager starts components after their dependencies and stops them in
// reverse start order. A failed start rolls back what was already started.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Dependencies must be registered first, which
// also rules out cycles.
func (m *Manager) Register(c Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c == nil {
		return errors.New("cannot register nil component")
	}
	if c.Name() == "" {
		return errors.New("component must have a non-empty name")
	}
	if slices.Contains(m.components, c) {
		return fmt.Errorf("component %s is already registered", c.Name())
	}
	for _, dep := range dependsOn {
		if !slices.Contains(m.components, dep) {
			return fmt.Errorf("dependency %s of %s is not registered", dep.Name(), c.Name())
		}
	}

	m.components = append(m.components, c)
	m.dependencies[c] = dependsOn
	m.logger.Debug("Registered component %s with %d dependencies", c.Name(), len(dependsOn))
	return nil
}

// Start starts every registered component. Registration order already
// places dependencies first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if slices.Contains(m.started, c) {
			continue
		}
		begin := time.Now()
		if err := c.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", c.Name(), err)
			m.stopStarted(context.Background())
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Debug("%s started (took %dms)", c.Name(), time.Since(begin).Milliseconds())
	}
	return nil
}

// Stop stops started components in reverse order. Errors are logged and
// joined, and do not prevent the remaining components from stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		cctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := c.Stop(cctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warn("Component %s exceeded its %s shutdown timeout", c.Name(), m.shutdownTimeout)
			} else {
				m.logger.Error("Error stopping %s: %v", c.Name(), err)
			}
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		m.logger.Debug("%s stopped", c.Name())
	}
	m.started = nil
	return errors.Join(errs...)
}

// IsRunning reports whether c was started and not yet stopped.
func (m *Manager) IsRunning(c Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.started, c)
}

// SetShutdownTimeout sets the per-component Stop deadline.
func (m *Manager) SetShutdownTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = d
}
