package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/visionstream/metric"
)

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("nil logger")
		}
		c.logger = logger.With("component", "natsclient")
		return nil
	}
}

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects sets the reconnection attempt limit (-1 for infinite).
func WithMaxReconnects(n int) Option {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets the drain timeout used during Close.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithPingInterval sets the server ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithCircuitThreshold sets the failure count that opens the circuit.
func WithCircuitThreshold(threshold int32) Option {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("circuit threshold must be positive, got %d", threshold)
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff sets the upper bound for circuit backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) error {
		if d < time.Second {
			return fmt.Errorf("max backoff must be at least 1s, got %v", d)
		}
		c.maxBackoff = d
		return nil
	}
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithMetrics wires connectivity gauges into the given core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithHealthChangeCallback sets a callback invoked when connection health
// flips. The callback runs on its own goroutine.
func WithHealthChangeCallback(fn func(healthy bool)) Option {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}
