package archiver

import (
	"context"
	"time"
)

// Record is one archived feature message.
type Record struct {
	Filename      string
	Image         []byte
	Features      []byte
	KeypointCount int
	ReceivedAt    time.Time
}

// Store persists feature records. Implementations must be safe for use from
// a single writer goroutine; Save may be retried on transient failure.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}
