// Package natsclient wraps a core NATS connection with a circuit breaker,
// reconnect handling, and connection health tracking.
//
// The pipeline uses best-effort core NATS pub/sub: publishers fire and
// forget, subscribers that are not connected miss messages. The client adds
// what the raw nats.Conn does not give us for free:
//
//   - a circuit breaker that stops hammering an unreachable server and backs
//     off exponentially,
//   - connection status as an atomic value that components can poll for
//     health reporting,
//   - Prometheus gauges for connectivity and reconnect counts,
//   - synchronous subscriptions (SubscribeSync) so a stage can own its
//     ingress in exactly one goroutine instead of handling callbacks on the
//     NATS dispatch goroutine.
package natsclient
