package natsclient

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Subscription is the synchronous subscription surface an ingress loop
// consumes. *nats.Subscription satisfies it.
type Subscription interface {
	NextMsg(timeout time.Duration) (*nats.Msg, error)
	Unsubscribe() error
	IsValid() bool
}

// Conn is the transport surface pipeline stages depend on. *Client
// satisfies it; tests substitute an in-memory implementation.
type Conn interface {
	Publish(subject string, data []byte) error
	SubscribeSync(subject string) (Subscription, error)
	IsHealthy() bool
}
