package archiver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/visionstream/component"
	"github.com/c360/visionstream/errors"
	"github.com/c360/visionstream/frame"
	"github.com/c360/visionstream/keypoint"
	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/natsclient"
	"github.com/c360/visionstream/pkg/retry"
)

const componentName = "archiver"

const nextMsgWait = 250 * time.Millisecond

// Config holds the persistence stage configuration.
type Config struct {
	Subject string
}

// Deps carries the collaborators the archiver needs.
type Deps struct {
	Conn    natsclient.Conn
	Store   Store
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Archiver consumes feature messages and persists them. It implements
// component.LifecycleComponent.
type Archiver struct {
	config Config
	conn   natsclient.Conn
	store  Store
	logger *slog.Logger

	sub natsclient.Subscription

	shutdown    chan struct{}
	done        chan struct{}
	running     bool
	stopped     bool // guarded by lifecycleMu; the stage is single-use
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	received     atomic.Int64
	archived     atomic.Int64
	dropped      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64

	saveRetry retry.Config
	core      *metric.Metrics
}

// New creates an archiver.
func New(config Config, deps Deps) (*Archiver, error) {
	if deps.Conn == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"Archiver", "New", "transport connection required")
	}
	if deps.Store == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"Archiver", "New", "store required")
	}
	if config.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Archiver", "New", "subject required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Archiver{
		config:    config,
		conn:      deps.Conn,
		store:     deps.Store,
		logger:    logger.With("component", componentName),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		saveRetry: retry.Quick(),
	}
	if deps.Metrics != nil {
		a.core = deps.Metrics.Core
	}
	return a, nil
}

// Initialize implements component.LifecycleComponent.
func (a *Archiver) Initialize() error {
	return nil
}

// Start subscribes to the feature subject and launches the receiver.
func (a *Archiver) Start(_ context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"Archiver", "Start", "check running state")
	}
	if a.stopped {
		return errors.WrapFatal(errors.ErrAlreadyStopped,
			"Archiver", "Start", "restart stopped component")
	}

	sub, err := a.conn.SubscribeSync(a.config.Subject)
	if err != nil {
		return errors.WrapTransient(err, "Archiver", "Start",
			fmt.Sprintf("subscribe to %s", a.config.Subject))
	}
	a.mu.Lock()
	a.sub = sub
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	go a.receive()

	a.logger.Info("archiver started", "subject", a.config.Subject)
	return nil
}

// Stop halts the receiver and closes the store. A stopped archiver cannot
// be started again.
func (a *Archiver) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.running {
		return nil
	}
	a.stopped = true

	close(a.shutdown)
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}

	select {
	case <-a.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Archiver", "Stop", "graceful shutdown")
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		return errors.Wrap(err, "Archiver", "Stop", "close store")
	}

	a.logger.Info("archiver stopped",
		"received", a.received.Load(), "archived", a.archived.Load())
	return nil
}

// receive is the only reader of the feature subscription.
func (a *Archiver) receive() {
	defer close(a.done)

	for {
		select {
		case <-a.shutdown:
			return
		default:
		}

		msg, err := a.sub.NextMsg(nextMsgWait)
		if err != nil {
			if stderrors.Is(err, nats.ErrTimeout) {
				continue
			}
			select {
			case <-a.shutdown:
			default:
				a.logger.Error("feature subscription lost", "error", err)
				a.errorCount.Add(1)
			}
			return
		}

		a.handleFeatures(msg.Data)
	}
}

// handleFeatures validates the three-part framing and persists the record.
func (a *Archiver) handleFeatures(data []byte) {
	a.received.Add(1)
	a.lastActivity.Store(time.Now().UnixNano())
	if a.core != nil {
		a.core.RecordMessageReceived(componentName)
	}

	parts, err := frame.Unmarshal(data)
	if err != nil {
		a.drop("unframe", err)
		return
	}
	if len(parts) != 3 {
		a.drop("part_count", fmt.Errorf("%w: got %d parts, want 3",
			errors.ErrFramingViolation, len(parts)))
		return
	}

	count, err := keypoint.Count(parts[2])
	if err != nil {
		a.drop("features", err)
		return
	}

	rec := Record{
		Filename:      string(parts[0]),
		Image:         parts[1],
		Features:      parts[2],
		KeypointCount: count,
		ReceivedAt:    time.Now().UTC(),
	}

	start := time.Now()
	err = retry.Do(context.Background(), a.saveRetry, func() error {
		saveErr := a.store.Save(context.Background(), rec)
		if saveErr != nil && errors.IsInvalid(saveErr) {
			return retry.NonRetryable(saveErr)
		}
		return saveErr
	})
	if err != nil {
		a.errorCount.Add(1)
		if a.core != nil {
			a.core.RecordMessageProcessed(componentName, "error")
			a.core.RecordError(componentName, "store")
		}
		a.logger.Error("record not archived",
			"filename", rec.Filename, "error", err)
		return
	}

	a.archived.Add(1)
	if a.core != nil {
		a.core.RecordMessageProcessed(componentName, "success")
		a.core.RecordProcessingDuration(componentName, "save", time.Since(start))
	}
	a.logger.Debug("record archived",
		"filename", rec.Filename,
		"keypoints", count,
		"image_bytes", len(rec.Image))
}

func (a *Archiver) drop(reason string, err error) {
	a.dropped.Add(1)
	a.errorCount.Add(1)
	if a.core != nil {
		a.core.RecordMessageProcessed(componentName, "error")
	}
	a.logger.Warn("message dropped", "reason", reason, "error", err)
}

// Stats is a snapshot of the archiver's counters.
type Stats struct {
	Received int64
	Archived int64
	Dropped  int64
	Errors   int64
}

// GetStats returns current counters.
func (a *Archiver) GetStats() Stats {
	return Stats{
		Received: a.received.Load(),
		Archived: a.archived.Load(),
		Dropped:  a.dropped.Load(),
		Errors:   a.errorCount.Load(),
	}
}

// Meta implements component.Discoverable.
func (a *Archiver) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "output",
		Description: "persists feature messages to the configured store",
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable.
func (a *Archiver) Health() component.HealthStatus {
	a.mu.RLock()
	running := a.running
	startTime := a.startTime
	sub := a.sub
	a.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    running && a.conn.IsHealthy() && sub != nil && sub.IsValid(),
		LastCheck:  time.Now(),
		ErrorCount: int(a.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow implements component.Discoverable.
func (a *Archiver) DataFlow() component.FlowMetrics {
	archived := a.archived.Load()
	errs := a.errorCount.Load()

	var errorRate float64
	if total := archived + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: time.Unix(0, a.lastActivity.Load()),
	}
}
