package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/visionstream/errors"
)

// managed tracks a component and its lifecycle state. The Manager, never the
// component, holds the per-component child context and cancel func so stages
// can be cancelled individually during shutdown.
type managed struct {
	component LifecycleComponent
	state     State
	cancel    context.CancelFunc
	lastError error
}

// Manager starts registered components in registration order and stops them
// in reverse, so downstream stages outlive the upstream stages feeding them.
type Manager struct {
	mu     sync.Mutex
	names  []string
	comps  map[string]*managed
	logger *slog.Logger
}

// NewManager creates an empty component manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		comps:  make(map[string]*managed),
		logger: logger,
	}
}

// Register adds a component under a unique name. Registration order is start
// order.
func (m *Manager) Register(name string, comp LifecycleComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.comps[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("component %q already registered", name),
			"Manager", "Register", "check name")
	}

	m.names = append(m.names, name)
	m.comps[name] = &managed{component: comp, state: StateCreated}
	return nil
}

// Components returns the registered components in start order.
func (m *Manager) Components() []Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Discoverable, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.comps[name].component)
	}
	return out
}

// StartAll initializes and starts every registered component in order. The
// first failure aborts the sequence and stops the components already started.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, name := range m.names {
		mc := m.comps[name]

		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			m.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Manager", "StartAll", fmt.Sprintf("initialize %s", name))
		}
		mc.state = StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel

		if err := mc.component.Start(childCtx); err != nil {
			cancel()
			mc.state = StateFailed
			mc.lastError = err
			m.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Manager", "StartAll", fmt.Sprintf("start %s", name))
		}
		mc.state = StateStarted

		m.logger.Info("component started", "component", name, "order", i)
	}

	return nil
}

// StopAll stops every started component in reverse registration order,
// splitting the timeout across them. All stop errors are collected; stopping
// continues past individual failures.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopStartedLocked(len(m.names), timeout)
}

// stopStartedLocked stops components with index < upTo in reverse order.
// Caller holds m.mu.
func (m *Manager) stopStartedLocked(upTo int, timeout time.Duration) error {
	started := 0
	for i := 0; i < upTo; i++ {
		if m.comps[m.names[i]].state == StateStarted {
			started++
		}
	}
	if started == 0 {
		return nil
	}
	perComponent := timeout / time.Duration(started)

	var errs []error
	for i := upTo - 1; i >= 0; i-- {
		name := m.names[i]
		mc := m.comps[name]
		if mc.state != StateStarted {
			continue
		}

		if err := mc.component.Stop(perComponent); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			m.logger.Error("component stop failed", "component", name, "error", err)
		} else {
			mc.state = StateStopped
			m.logger.Info("component stopped", "component", name)
		}

		if mc.cancel != nil {
			mc.cancel()
			mc.cancel = nil
		}
	}

	if len(errs) > 0 {
		msg := "shutdown errors:"
		for i, err := range errs {
			msg += fmt.Sprintf("\n  [%d] %v", i+1, err)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// States returns the current lifecycle state per component.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.names))
	for name, mc := range m.comps {
		out[name] = mc.state
	}
	return out
}
