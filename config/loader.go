package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/c360/visionstream/errors"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VISIONSTREAM"

// Load builds the configuration from defaults, an optional JSON file, and
// environment overrides, then validates the result. An empty path skips the
// file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile unmarshals the JSON file over the existing config, so fields
// absent from the file keep their defaults.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load",
			fmt.Sprintf("read config file %s", path))
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.WrapInvalid(err, "Loader", "Load",
			fmt.Sprintf("parse config file %s", path))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
			*target = val
		}
	}
	setInt := func(key string, target *int) {
		if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*target = n
			}
		}
	}

	setString("NATS_URL", &cfg.NATS.URL)
	setString("NATS_USERNAME", &cfg.NATS.Username)
	setString("NATS_PASSWORD", &cfg.NATS.Password)
	setString("NATS_TOKEN", &cfg.NATS.Token)

	setString("RAW_SUBJECT", &cfg.Pipeline.RawSubject)
	setString("FEATURES_SUBJECT", &cfg.Pipeline.FeaturesSubject)

	setString("IMAGE_DIR", &cfg.Generator.ImageDir)
	setInt("WORKERS", &cfg.Extractor.Workers)

	setString("ARCHIVER_BACKEND", &cfg.Archiver.Backend)
	setString("POSTGRES_DSN", &cfg.Archiver.PostgresDSN)
	setString("OUTPUT_DIR", &cfg.Archiver.OutputDir)

	setInt("METRICS_PORT", &cfg.Metrics.Port)
	setInt("HEALTH_PORT", &cfg.Health.Port)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
}
