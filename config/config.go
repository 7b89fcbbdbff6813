package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/c360/visionstream/errors"
)

// Duration wraps time.Duration so JSON config files can use strings like
// "500ms" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for every pipeline role.
type Config struct {
	NATS      NATSConfig      `json:"nats"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Generator GeneratorConfig `json:"generator"`
	Extractor ExtractorConfig `json:"extractor"`
	Archiver  ArchiverConfig  `json:"archiver"`
	Metrics   MetricsConfig   `json:"metrics"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

// NATSConfig configures the transport connection.
type NATSConfig struct {
	URL           string   `json:"url"`
	Name          string   `json:"name"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Timeout       Duration `json:"timeout"`
	DrainTimeout  Duration `json:"drain_timeout"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// PipelineConfig names the subjects connecting the stages.
type PipelineConfig struct {
	RawSubject      string `json:"raw_subject"`
	FeaturesSubject string `json:"features_subject"`
}

// GeneratorConfig configures the image source stage.
type GeneratorConfig struct {
	ImageDir string   `json:"image_dir"`
	Interval Duration `json:"interval"`
	Loop     bool     `json:"loop"`
}

// ExtractorConfig configures the feature extraction stage.
type ExtractorConfig struct {
	Workers       int    `json:"workers"`
	Detector      string `json:"detector"`
	FASTThreshold int    `json:"fast_threshold"`
}

// ArchiverConfig configures the persistence stage. Backend is "postgres" or
// "disk".
type ArchiverConfig struct {
	Backend     string `json:"backend"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	OutputDir   string `json:"output_dir,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// HealthConfig configures the health endpoint.
type HealthConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "visionstream",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
			DrainTimeout:  Duration(30 * time.Second),
		},
		Pipeline: PipelineConfig{
			RawSubject:      "images.raw",
			FeaturesSubject: "images.features",
		},
		Generator: GeneratorConfig{
			ImageDir: "./images",
			Interval: Duration(500 * time.Millisecond),
			Loop:     true,
		},
		Extractor: ExtractorConfig{
			Workers:       runtime.NumCPU(),
			Detector:      "fast",
			FASTThreshold: 20,
		},
		Archiver: ArchiverConfig{
			Backend:   "disk",
			OutputDir: "./features",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    8081,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf(format, args...),
			"Config", "Validate", "validate configuration")
	}

	if c.NATS.URL == "" {
		return invalid("nats.url must not be empty")
	}
	if c.Pipeline.RawSubject == "" {
		return invalid("pipeline.raw_subject must not be empty")
	}
	if c.Pipeline.FeaturesSubject == "" {
		return invalid("pipeline.features_subject must not be empty")
	}
	if c.Pipeline.RawSubject == c.Pipeline.FeaturesSubject {
		return invalid("pipeline subjects must differ, both are %q", c.Pipeline.RawSubject)
	}
	if c.Generator.Interval.Std() <= 0 {
		return invalid("generator.interval must be positive, got %v", c.Generator.Interval.Std())
	}
	if c.Extractor.Workers < 1 {
		return invalid("extractor.workers must be at least 1, got %d", c.Extractor.Workers)
	}
	if c.Extractor.Detector == "" {
		return invalid("extractor.detector must not be empty")
	}
	if c.Extractor.FASTThreshold < 1 || c.Extractor.FASTThreshold > 255 {
		return invalid("extractor.fast_threshold must be in [1,255], got %d", c.Extractor.FASTThreshold)
	}

	switch c.Archiver.Backend {
	case "postgres":
		if c.Archiver.PostgresDSN == "" {
			return invalid("archiver.postgres_dsn required for postgres backend")
		}
	case "disk":
		if c.Archiver.OutputDir == "" {
			return invalid("archiver.output_dir required for disk backend")
		}
	default:
		return invalid("archiver.backend must be postgres or disk, got %q", c.Archiver.Backend)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port out of range: %d", c.Metrics.Port)
	}
	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		return invalid("health.port out of range: %d", c.Health.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
