// Package main is the entry point for the visionstream pipeline. One binary
// runs any stage of the pipeline (generator, extractor, archiver) or all of
// them in a single process, selected by the --role flag.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/visionstream/archiver"
	"github.com/c360/visionstream/component"
	"github.com/c360/visionstream/config"
	"github.com/c360/visionstream/detector"
	_ "github.com/c360/visionstream/detector/fast"
	"github.com/c360/visionstream/extractor"
	"github.com/c360/visionstream/generator"
	"github.com/c360/visionstream/health"
	"github.com/c360/visionstream/metric"
	"github.com/c360/visionstream/natsclient"
)

const (
	Version = "0.1.0"
	appName = "visionstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags win over file and environment for logging.
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("starting visionstream",
		"role", cliCfg.Role,
		"nats_url", cfg.NATS.URL,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()
	registry := metric.NewRegistry()

	conn, err := connectNATS(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			logger.Error("NATS close failed", "error", err)
		}
	}()

	manager := component.NewManager(logger)
	monitor := health.NewMonitor()
	if err := buildComponents(ctx, cliCfg.Role, cfg, conn, registry, logger, manager, monitor); err != nil {
		return err
	}

	servers, err := startServers(cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer servers.stop(logger)

	return runWithSignalHandling(ctx, manager, logger, cliCfg.ShutdownTimeout)
}

func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.Registry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.Option{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.Core),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithTimeout(cfg.NATS.Timeout.Std()),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	conn, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return conn, nil
}

// buildComponents registers the stages selected by role with the lifecycle
// manager and the health monitor.
func buildComponents(
	ctx context.Context,
	role string,
	cfg *config.Config,
	conn *natsclient.Client,
	registry *metric.Registry,
	logger *slog.Logger,
	manager *component.Manager,
	monitor *health.Monitor,
) error {
	// Archiver first so it is subscribed before upstream stages start, and
	// stops last on shutdown.
	if role == "archiver" || role == "all" {
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return err
		}
		arch, err := archiver.New(archiver.Config{
			Subject: cfg.Pipeline.FeaturesSubject,
		}, archiver.Deps{
			Conn:    conn,
			Store:   store,
			Logger:  logger,
			Metrics: registry,
		})
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		if err := manager.Register("archiver", arch); err != nil {
			return err
		}
		monitor.Watch("archiver", arch)
	}

	if role == "extractor" || role == "all" {
		det, err := detector.New(cfg.Extractor.Detector, cfg.Extractor.FASTThreshold)
		if err != nil {
			return fmt.Errorf("create detector: %w", err)
		}
		ext, err := extractor.New(extractor.Config{
			InputSubject:  cfg.Pipeline.RawSubject,
			OutputSubject: cfg.Pipeline.FeaturesSubject,
			Workers:       cfg.Extractor.Workers,
		}, extractor.Deps{
			Conn:     conn,
			Detector: det,
			Logger:   logger,
			Metrics:  registry,
		})
		if err != nil {
			return fmt.Errorf("create extractor: %w", err)
		}
		if err := manager.Register("extractor", ext); err != nil {
			return err
		}
		monitor.Watch("extractor", ext)
	}

	if role == "generator" || role == "all" {
		gen, err := generator.New(generator.Config{
			Subject:  cfg.Pipeline.RawSubject,
			ImageDir: cfg.Generator.ImageDir,
			Interval: cfg.Generator.Interval.Std(),
			Loop:     cfg.Generator.Loop,
		}, generator.Deps{
			Conn:    conn,
			Logger:  logger,
			Metrics: registry,
		})
		if err != nil {
			return fmt.Errorf("create generator: %w", err)
		}
		if err := manager.Register("generator", gen); err != nil {
			return err
		}
		monitor.Watch("generator", gen)
	}

	return nil
}

func buildStore(ctx context.Context, cfg *config.Config) (archiver.Store, error) {
	switch cfg.Archiver.Backend {
	case "postgres":
		store, err := archiver.NewPostgresStore(ctx, cfg.Archiver.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return store, nil
	case "disk":
		store, err := archiver.NewDiskStore(cfg.Archiver.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("open output directory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archiver backend %q", cfg.Archiver.Backend)
	}
}

type servers struct {
	metrics *metric.Server
	health  *health.Server
}

func startServers(
	cfg *config.Config,
	registry *metric.Registry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*servers, error) {
	s := &servers{}

	if cfg.Metrics.Enabled {
		s.metrics = metric.NewServer(cfg.Metrics.Port, registry)
		if err := s.metrics.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics server started", "address", s.metrics.Address())
	}

	if cfg.Health.Enabled {
		s.health = health.NewServer(cfg.Health.Port, appName, monitor, logger)
		if err := s.health.Start(); err != nil {
			return nil, fmt.Errorf("start health server: %w", err)
		}
	}

	return s, nil
}

func (s *servers) stop(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Stop(ctx); err != nil {
			logger.Error("health server stop failed", "error", err)
		}
	}
	if s.metrics != nil {
		if err := s.metrics.Stop(ctx); err != nil {
			logger.Error("metrics server stop failed", "error", err)
		}
	}
}

func runWithSignalHandling(
	ctx context.Context,
	manager *component.Manager,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	logger.Info("visionstream started")

	<-signalCtx.Done()
	logger.Info("shutdown signal received")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		return fmt.Errorf("stop components: %w", err)
	}
	logger.Info("visionstream stopped")
	return nil
}
