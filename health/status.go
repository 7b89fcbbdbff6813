package health

import (
	"time"

	"github.com/c360/visionstream/component"
)

// Status is the health state of a component or of the whole pipeline.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries activity counters alongside a status.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// Healthy creates a healthy status for a component.
func Healthy(comp, message string) Status {
	return Status{
		Component: comp,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded creates a degraded status for a component.
func Degraded(comp, message string) Status {
	return Status{
		Component: comp,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy creates an unhealthy status for a component.
func Unhealthy(comp, message string) Status {
	return Status{
		Component: comp,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponent converts a component.HealthStatus into a Status.
func FromComponent(name string, ch component.HealthStatus) Status {
	status := "unhealthy"
	message := ch.LastError
	if ch.Healthy {
		status = "healthy"
		if message == "" {
			message = "component healthy"
		}
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:       ch.Uptime,
			ErrorCount:   ch.ErrorCount,
			LastActivity: ch.LastCheck,
		},
	}
}

// Aggregate combines sub-statuses into one status. Any unhealthy sub-status
// makes the aggregate unhealthy; otherwise any degraded sub-status makes it
// degraded.
func Aggregate(comp string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return Healthy(comp, "no components registered")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = Unhealthy(comp, "one or more components are unhealthy")
	case hasDegraded:
		status = Degraded(comp, "one or more components are degraded")
	default:
		status = Healthy(comp, "all components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
