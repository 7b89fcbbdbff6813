package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/visionstream/natsclient"
)

// FakeConn is an in-memory natsclient.Conn. Published messages are recorded
// and delivered to matching subscriptions; Deliver injects inbound messages
// without a publisher.
type FakeConn struct {
	mu         sync.Mutex
	subs       map[string][]*FakeSubscription
	published  map[string][][]byte
	healthy    bool
	publishErr error
}

// NewFakeConn creates a healthy fake connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		subs:      make(map[string][]*FakeSubscription),
		published: make(map[string][][]byte),
		healthy:   true,
	}
}

// Publish records the message and delivers it to subscriptions on the
// subject.
func (f *FakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.published[subject] = append(f.published[subject], buf)
	subs := append([]*FakeSubscription(nil), f.subs[subject]...)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(&nats.Msg{Subject: subject, Data: buf})
	}
	return nil
}

// SubscribeSync creates a fake synchronous subscription.
func (f *FakeConn) SubscribeSync(subject string) (natsclient.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.healthy {
		return nil, natsclient.ErrNotConnected
	}
	sub := &FakeSubscription{
		subject: subject,
		msgs:    make(chan *nats.Msg, 1024),
	}
	f.subs[subject] = append(f.subs[subject], sub)
	return sub, nil
}

// IsHealthy implements natsclient.Conn.
func (f *FakeConn) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

// SetHealthy flips the reported connection health.
func (f *FakeConn) SetHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

// FailPublishes makes every subsequent Publish return err.
func (f *FakeConn) FailPublishes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

// Deliver injects a message to all subscriptions on the subject.
func (f *FakeConn) Deliver(subject string, data []byte) {
	f.mu.Lock()
	subs := append([]*FakeSubscription(nil), f.subs[subject]...)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(&nats.Msg{Subject: subject, Data: data})
	}
}

// Published returns all payloads published to the subject, in order.
func (f *FakeConn) Published(subject string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[subject]...)
}

// WaitForPublished polls until at least n messages were published to the
// subject or the timeout expires.
func (f *FakeConn) WaitForPublished(subject string, n int, timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs := f.Published(subject)
		if len(msgs) >= n {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return msgs, fmt.Errorf("timeout waiting for %d messages on %s, got %d",
				n, subject, len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// FakeSubscription is a channel-backed natsclient.Subscription.
type FakeSubscription struct {
	subject string
	msgs    chan *nats.Msg

	mu   sync.Mutex
	done bool
}

func (s *FakeSubscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.msgs <- msg:
	default:
		// Slow consumer: drop, matching core NATS semantics.
	}
}

// NextMsg implements natsclient.Subscription.
func (s *FakeSubscription) NextMsg(timeout time.Duration) (*nats.Msg, error) {
	if !s.IsValid() {
		// Unsubscribed, but buffered messages still drain first.
		select {
		case msg := <-s.msgs:
			return msg, nil
		default:
			return nil, nats.ErrBadSubscription
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-timer.C:
		return nil, nats.ErrTimeout
	}
}

// Unsubscribe implements natsclient.Subscription.
func (s *FakeSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nats.ErrBadSubscription
	}
	s.done = true
	return nil
}

// IsValid implements natsclient.Subscription.
func (s *FakeSubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}
