// Package health aggregates per-component health into a system-wide status.
//
// Each pipeline stage reports component.HealthStatus; the Monitor converts
// those into Status values and aggregates them with simple rules: any
// unhealthy sub-status makes the system unhealthy, otherwise any degraded
// sub-status makes it degraded, otherwise the system is healthy. The Server
// exposes the aggregate as JSON on /healthz.
package health
