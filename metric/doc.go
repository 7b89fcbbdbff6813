// Package metric manages Prometheus metrics for the pipeline.
//
// A Registry wraps a dedicated prometheus.Registry (plus the Go and process
// collectors) and namespaces component-specific metrics by component name so
// two pipeline stages cannot collide. Core pipeline metrics (messages
// received/processed/published, errors, transport connectivity) are always
// registered; components add their own counters and histograms on top.
//
// The Server exposes the registry on /metrics via promhttp.
package metric
