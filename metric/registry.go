package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/visionstream/errors"
)

// Registry manages the registration and lifecycle of pipeline metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Core               *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a metrics registry with the core pipeline metrics and
// Go runtime collectors pre-registered.
func NewRegistry() *Registry {
	promRegistry := prometheus.NewRegistry()

	r := &Registry{
		prometheusRegistry: promRegistry,
		Core:               NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.Core.register(promRegistry)

	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a component-scoped collector under component.name. It
// fails with an invalid error on duplicate registration so components detect
// naming collisions at startup rather than silently double-counting.
func (r *Registry) Register(component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		return errors.WrapFatal(err, "Registry", "Register",
			fmt.Sprintf("register %s with prometheus", key))
	}

	r.registered[key] = collector
	return nil
}

// MustRegister registers collectors and panics on failure; intended for
// component construction where a registration failure is a programming error.
func (r *Registry) MustRegister(component string, named map[string]prometheus.Collector) {
	for name, collector := range named {
		if err := r.Register(component, name, collector); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a component metric from the registry.
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	if r.prometheusRegistry.Unregister(collector) {
		delete(r.registered, key)
		return true
	}
	return false
}
