// Package queue provides the blocking hand-off queue that connects the
// pipeline's ingress, worker, and egress goroutines.
//
// A Queue is an unbounded FIFO safe for concurrent producers and consumers.
// Push never blocks and wakes exactly one waiting consumer; Pop blocks while
// the queue is empty and each item is delivered to exactly one consumer.
// Close releases blocked consumers deterministically during shutdown:
// remaining items drain first, then Pop reports ok=false.
//
// Ordering is FIFO per producer. With multiple producers racing to push,
// no relative order between their items is guaranteed.
package queue
