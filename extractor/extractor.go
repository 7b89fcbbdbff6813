package extractor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/nats-io/nats.go"

	"github.com/c360/visionstream/component"
	"github.com/c360/visionstream/detector"
	"github.com/c360/visionstream/errors"
	"github.com/c360/visionstream/frame"
	"github.com/c360/visionstream/keypoint"
	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/natsclient"
	"github.com/c360/visionstream/pkg/queue"
)

const componentName = "extractor"

// nextMsgWait bounds how long the receiver blocks before rechecking for
// shutdown.
const nextMsgWait = 250 * time.Millisecond

// Config holds the extraction stage configuration.
type Config struct {
	InputSubject  string
	OutputSubject string
	Workers       int
}

// Deps carries the collaborators the extractor needs.
type Deps struct {
	Conn     natsclient.Conn
	Detector detector.Detector
	Logger   *slog.Logger
	Metrics  *metric.Registry
}

type workItem struct {
	filename string
	image    []byte
}

type resultItem struct {
	filename string
	image    []byte
	features []byte
}

// Extractor receives raw images, detects keypoints in a worker pool, and
// publishes feature messages. It implements component.LifecycleComponent.
type Extractor struct {
	config Config
	conn   natsclient.Conn
	det    detector.Detector
	logger *slog.Logger

	sub natsclient.Subscription

	workQueue   *queue.Queue[workItem]
	resultQueue *queue.Queue[resultItem]

	shutdown    chan struct{}
	running     bool
	stopped     bool // guarded by lifecycleMu; the stage is single-use
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	receiverWg sync.WaitGroup
	workerWg   sync.WaitGroup
	senderWg   sync.WaitGroup

	received     atomic.Int64
	processed    atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	core    *metric.Metrics
	metrics *extractorMetrics
}

// New creates an extractor. Workers defaults to the number of CPUs.
func New(config Config, deps Deps) (*Extractor, error) {
	if deps.Conn == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"Extractor", "New", "transport connection required")
	}
	if deps.Detector == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"Extractor", "New", "detector required")
	}
	if config.InputSubject == "" || config.OutputSubject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Extractor", "New", "input and output subjects required")
	}
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Extractor{
		config:      config,
		conn:        deps.Conn,
		det:         deps.Detector,
		logger:      logger.With("component", componentName),
		workQueue:   queue.New[workItem](),
		resultQueue: queue.New[resultItem](),
		shutdown:    make(chan struct{}),
	}

	if deps.Metrics != nil {
		e.core = deps.Metrics.Core
		m, err := newExtractorMetrics(deps.Metrics, e.workQueue, e.resultQueue)
		if err != nil {
			return nil, err
		}
		e.metrics = m
	}

	return e, nil
}

// Initialize implements component.LifecycleComponent.
func (e *Extractor) Initialize() error {
	return nil
}

// Start subscribes to the input subject and launches the receiver, the
// worker pool, and the sender.
func (e *Extractor) Start(_ context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"Extractor", "Start", "check running state")
	}
	if e.stopped {
		return errors.WrapFatal(errors.ErrAlreadyStopped,
			"Extractor", "Start", "restart stopped component")
	}

	sub, err := e.conn.SubscribeSync(e.config.InputSubject)
	if err != nil {
		return errors.WrapTransient(err, "Extractor", "Start",
			fmt.Sprintf("subscribe to %s", e.config.InputSubject))
	}
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	e.receiverWg.Add(1)
	go e.receive()

	e.workerWg.Add(e.config.Workers)
	for i := 0; i < e.config.Workers; i++ {
		go e.worker(i)
	}

	// The result queue closes once every worker has drained out, which in
	// turn lets the sender finish.
	go func() {
		e.workerWg.Wait()
		e.resultQueue.Close()
	}()

	e.senderWg.Add(1)
	go e.send()

	e.mu.Lock()
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	e.logger.Info("extractor started",
		"input_subject", e.config.InputSubject,
		"output_subject", e.config.OutputSubject,
		"workers", e.config.Workers,
		"detector", e.det.Name())
	return nil
}

// Stop shuts the stage down in pipeline order: the receiver stops first,
// workers drain the work queue, then the sender drains the result queue.
// A stopped extractor cannot be started again; its queues are closed.
func (e *Extractor) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running {
		return nil
	}
	e.stopped = true

	close(e.shutdown)
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}

	waitCh := make(chan struct{})
	go func() {
		e.receiverWg.Wait()
		e.workerWg.Wait()
		e.senderWg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Extractor", "Stop", "graceful shutdown")
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.logger.Info("extractor stopped",
		"received", e.received.Load(),
		"processed", e.processed.Load(),
		"published", e.published.Load(),
		"dropped", e.dropped.Load())
	return nil
}

// receive is the only reader of the input subscription. On exit it closes
// the work queue so workers drain and finish.
func (e *Extractor) receive() {
	defer e.receiverWg.Done()
	defer e.workQueue.Close()

	for {
		select {
		case <-e.shutdown:
			return
		default:
		}

		msg, err := e.sub.NextMsg(nextMsgWait)
		if err != nil {
			if stderrors.Is(err, nats.ErrTimeout) {
				continue
			}
			select {
			case <-e.shutdown:
			default:
				e.logger.Error("input subscription lost", "error", err)
				e.errorCount.Add(1)
			}
			return
		}

		e.handleRaw(msg.Data)
	}
}

// handleRaw validates the two-part framing and enqueues the work item.
// Anything malformed is dropped.
func (e *Extractor) handleRaw(data []byte) {
	e.received.Add(1)
	e.touch()
	if e.core != nil {
		e.core.RecordMessageReceived(componentName)
	}

	parts, err := frame.Unmarshal(data)
	if err != nil {
		e.drop("unframe", err)
		return
	}
	if len(parts) != 2 {
		e.drop("part_count", fmt.Errorf("%w: got %d parts, want 2",
			errors.ErrFramingViolation, len(parts)))
		return
	}

	_ = e.workQueue.Push(workItem{
		filename: string(parts[0]),
		image:    parts[1],
	})
}

// worker pops items until the work queue closes.
func (e *Extractor) worker(id int) {
	defer e.workerWg.Done()

	for {
		item, ok := e.workQueue.Pop()
		if !ok {
			return
		}

		res, err := e.process(item)
		if err != nil {
			e.drop("process", err)
			e.logger.Debug("image dropped",
				"worker", id, "filename", item.filename, "error", err)
			continue
		}

		e.processed.Add(1)
		e.touch()
		if e.core != nil {
			e.core.RecordMessageProcessed(componentName, "success")
		}
		_ = e.resultQueue.Push(res)
	}
}

// process decodes the image, runs detection, and encodes the keypoints.
// A panicking detector is contained to the item that triggered it.
func (e *Extractor) process(item workItem) (res resultItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapInvalid(
				fmt.Errorf("detector panic: %v", r),
				"Extractor", "process", "run detection")
		}
	}()

	start := time.Now()

	img, _, err := image.Decode(bytes.NewReader(item.image))
	if err != nil {
		return res, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrImageDecode, err),
			"Extractor", "process", fmt.Sprintf("decode %s", item.filename))
	}

	kps, err := e.det.Detect(img)
	if err != nil {
		return res, errors.Wrap(err, "Extractor", "process",
			fmt.Sprintf("detect features in %s", item.filename))
	}

	if e.core != nil {
		e.core.RecordProcessingDuration(componentName, "detect", time.Since(start))
	}
	e.metrics.recordKeypoints(len(kps))

	return resultItem{
		filename: item.filename,
		image:    item.image,
		features: keypoint.Encode(kps),
	}, nil
}

// send is the only publisher on the output subject. It drains the result
// queue until the queue closes.
func (e *Extractor) send() {
	defer e.senderWg.Done()

	for {
		res, ok := e.resultQueue.Pop()
		if !ok {
			return
		}

		payload := frame.Marshal([]byte(res.filename), res.image, res.features)
		if err := e.conn.Publish(e.config.OutputSubject, payload); err != nil {
			e.errorCount.Add(1)
			e.metrics.recordError("publish")
			e.logger.Error("publish failed",
				"subject", e.config.OutputSubject,
				"filename", res.filename,
				"error", err)
			continue
		}

		e.published.Add(1)
		e.touch()
		if e.core != nil {
			e.core.RecordMessagePublished(componentName, e.config.OutputSubject)
		}
	}
}

func (e *Extractor) drop(reason string, err error) {
	e.dropped.Add(1)
	e.errorCount.Add(1)
	e.metrics.recordDrop(reason)
	if e.core != nil {
		e.core.RecordMessageProcessed(componentName, "error")
	}
	e.logger.Warn("message dropped", "reason", reason, "error", err)
}

func (e *Extractor) touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

// Stats is a snapshot of the extractor's counters.
type Stats struct {
	Received  int64
	Processed int64
	Published int64
	Dropped   int64
	Errors    int64
}

// GetStats returns current counters.
func (e *Extractor) GetStats() Stats {
	return Stats{
		Received:  e.received.Load(),
		Processed: e.processed.Load(),
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Errors:    e.errorCount.Load(),
	}
}

// Meta implements component.Discoverable.
func (e *Extractor) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "detects image keypoints and publishes encoded features",
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable.
func (e *Extractor) Health() component.HealthStatus {
	e.mu.RLock()
	running := e.running
	startTime := e.startTime
	sub := e.sub
	e.mu.RUnlock()

	healthy := running && e.conn.IsHealthy() && sub != nil && sub.IsValid()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(e.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow implements component.Discoverable.
func (e *Extractor) DataFlow() component.FlowMetrics {
	processed := e.processed.Load()
	errs := e.errorCount.Load()

	var errorRate float64
	if total := processed + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: time.Unix(0, e.lastActivity.Load()),
	}
}
