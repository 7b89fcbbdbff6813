package generator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/visionstream/component"
	"github.com/c360/visionstream/errors"
	"github.com/c360/visionstream/frame"
	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/natsclient"
)

const componentName = "generator"

// Config holds the image source configuration.
type Config struct {
	Subject  string
	ImageDir string
	Interval time.Duration
	Loop     bool
}

// Deps carries the collaborators the generator needs.
type Deps struct {
	Conn    natsclient.Conn
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Generator publishes images from a directory. It implements
// component.LifecycleComponent.
type Generator struct {
	config Config
	conn   natsclient.Conn
	logger *slog.Logger

	files []string

	shutdown    chan struct{}
	done        chan struct{}
	running     bool
	stopped     bool // guarded by lifecycleMu; the stage is single-use
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	published    atomic.Int64
	skipped      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Int64

	core *metric.Metrics
}

// New creates a generator.
func New(config Config, deps Deps) (*Generator, error) {
	if deps.Conn == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"Generator", "New", "transport connection required")
	}
	if config.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Generator", "New", "subject required")
	}
	if config.ImageDir == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Generator", "New", "image directory required")
	}
	if config.Interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Generator", "New", fmt.Sprintf("interval must be positive, got %v", config.Interval))
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		config:   config,
		conn:     deps.Conn,
		logger:   logger.With("component", componentName),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if deps.Metrics != nil {
		g.core = deps.Metrics.Core
	}
	return g, nil
}

// Initialize scans the image directory. It fails when the directory is
// unreadable or holds no images, since the stage would have nothing to do.
func (g *Generator) Initialize() error {
	files, err := listImages(g.config.ImageDir)
	if err != nil {
		return errors.WrapFatal(err, "Generator", "Initialize",
			fmt.Sprintf("scan image directory %s", g.config.ImageDir))
	}
	if len(files) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("no images in %s", g.config.ImageDir),
			"Generator", "Initialize", "scan image directory")
	}

	g.files = files
	g.logger.Info("image directory scanned",
		"dir", g.config.ImageDir, "images", len(files))
	return nil
}

// Start begins publishing on the configured interval.
func (g *Generator) Start(_ context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"Generator", "Start", "check running state")
	}
	if g.stopped {
		return errors.WrapFatal(errors.ErrAlreadyStopped,
			"Generator", "Start", "restart stopped component")
	}
	if len(g.files) == 0 {
		return errors.WrapFatal(errors.ErrNotStarted,
			"Generator", "Start", "Initialize must run first")
	}

	g.mu.Lock()
	g.running = true
	g.startTime = time.Now()
	g.mu.Unlock()

	go g.run()

	g.logger.Info("generator started",
		"subject", g.config.Subject,
		"interval", g.config.Interval,
		"loop", g.config.Loop,
		"images", len(g.files))
	return nil
}

// Stop halts publishing. A stopped generator cannot be started again.
func (g *Generator) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.running {
		return nil
	}
	g.stopped = true
	close(g.shutdown)

	select {
	case <-g.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Generator", "Stop", "graceful shutdown")
	}

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	g.logger.Info("generator stopped", "published", g.published.Load())
	return nil
}

// run paces through the file list. Each tick reads and publishes one image;
// files that disappear or fail to read are skipped. In loop mode the
// directory is rescanned between passes so files added or removed while
// running are picked up.
func (g *Generator) run() {
	defer close(g.done)

	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	files := g.files
	idx := 0
	for {
		select {
		case <-g.shutdown:
			return
		case <-ticker.C:
		}

		if idx >= len(files) {
			if !g.config.Loop {
				g.logger.Info("all images published", "count", g.published.Load())
				return
			}
			switch rescanned, err := listImages(g.config.ImageDir); {
			case err != nil:
				g.errorCount.Add(1)
				g.logger.Warn("rescan failed, keeping previous file list",
					"dir", g.config.ImageDir, "error", err)
			case len(rescanned) == 0:
				// Wait for images to reappear before starting a pass.
				g.logger.Warn("image directory empty", "dir", g.config.ImageDir)
				continue
			default:
				files = rescanned
			}
			idx = 0
		}

		g.publish(files[idx])
		idx++
	}
}

func (g *Generator) publish(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		g.skipped.Add(1)
		g.errorCount.Add(1)
		g.logger.Warn("image unreadable, skipping", "path", path, "error", err)
		return
	}

	payload := frame.Marshal([]byte(filepath.Base(path)), data)
	if err := g.conn.Publish(g.config.Subject, payload); err != nil {
		g.errorCount.Add(1)
		if g.core != nil {
			g.core.RecordError(componentName, "publish")
		}
		g.logger.Error("publish failed", "path", path, "error", err)
		return
	}

	g.published.Add(1)
	g.lastActivity.Store(time.Now().UnixNano())
	if g.core != nil {
		g.core.RecordMessagePublished(componentName, g.config.Subject)
	}
	g.logger.Debug("image published",
		"filename", filepath.Base(path), "bytes", len(data))
}

// listImages returns the sorted paths of all JPEG and PNG files directly in
// dir.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Stats is a snapshot of the generator's counters.
type Stats struct {
	Published int64
	Skipped   int64
	Errors    int64
}

// GetStats returns current counters.
func (g *Generator) GetStats() Stats {
	return Stats{
		Published: g.published.Load(),
		Skipped:   g.skipped.Load(),
		Errors:    g.errorCount.Load(),
	}
}

// Meta implements component.Discoverable.
func (g *Generator) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "input",
		Description: "publishes directory images as raw two-part messages",
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable.
func (g *Generator) Health() component.HealthStatus {
	g.mu.RLock()
	running := g.running
	startTime := g.startTime
	g.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    running && g.conn.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow implements component.Discoverable.
func (g *Generator) DataFlow() component.FlowMetrics {
	published := g.published.Load()
	errs := g.errorCount.Load()

	var errorRate float64
	if total := published + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: time.Unix(0, g.lastActivity.Load()),
	}
}
