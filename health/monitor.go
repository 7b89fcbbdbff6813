package health

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/visionstream/component"
)

// Monitor tracks the health of pipeline components. Components either push
// their status via Update, or register as a component.Discoverable and get
// polled when the aggregate is computed.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	sources  map[string]component.Discoverable
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		sources:  make(map[string]component.Discoverable),
	}
}

// Update records a pushed status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Watch registers a component to be polled on every aggregate computation.
// A polled component shadows any previously pushed status of the same name.
func (m *Monitor) Watch(name string, c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = c
}

// Get returns the current status of a named component. Polled components are
// queried live.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	source, polled := m.sources[name]
	status, pushed := m.statuses[name]
	m.mu.RUnlock()

	if polled {
		return FromComponent(name, source.Health()), true
	}
	return status, pushed
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.sources, name)
}

// Components returns the sorted names of all monitored components.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(m.statuses)+len(m.sources))
	for name := range m.statuses {
		seen[name] = true
	}
	for name := range m.sources {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregate computes the system-wide status from all pushed and polled
// component statuses.
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	pushed := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		pushed[name] = status
	}
	sources := make(map[string]component.Discoverable, len(m.sources))
	for name, c := range m.sources {
		sources[name] = c
	}
	m.mu.RUnlock()

	// Health() may block briefly, so poll outside the lock.
	for name, c := range sources {
		pushed[name] = FromComponent(name, c.Health())
	}

	names := make([]string, 0, len(pushed))
	for name := range pushed {
		names = append(names, name)
	}
	sort.Strings(names)

	subStatuses := make([]Status, 0, len(names))
	for _, name := range names {
		subStatuses = append(subStatuses, pushed[name])
	}
	return Aggregate(systemName, subStatuses)
}
