package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "images.raw", cfg.Pipeline.RawSubject)
	assert.Equal(t, "images.features", cfg.Pipeline.FeaturesSubject)
	assert.Equal(t, 500*time.Millisecond, cfg.Generator.Interval.Std())
	assert.GreaterOrEqual(t, cfg.Extractor.Workers, 1)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"nats": {"url": "nats://broker:4222"},
		"generator": {"interval": "50ms", "image_dir": "/data/frames"},
		"extractor": {"workers": 8},
		"archiver": {"backend": "postgres", "postgres_dsn": "postgres://localhost/features"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 50*time.Millisecond, cfg.Generator.Interval.Std())
	assert.Equal(t, "/data/frames", cfg.Generator.ImageDir)
	assert.Equal(t, 8, cfg.Extractor.Workers)
	assert.Equal(t, "postgres", cfg.Archiver.Backend)

	// Fields absent from the file keep defaults.
	assert.Equal(t, "images.raw", cfg.Pipeline.RawSubject)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VISIONSTREAM_NATS_URL", "nats://env-host:4222")
	t.Setenv("VISIONSTREAM_WORKERS", "3")
	t.Setenv("VISIONSTREAM_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://env-host:4222", cfg.NATS.URL)
	assert.Equal(t, 3, cfg.Extractor.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"same subjects", func(c *Config) {
			c.Pipeline.FeaturesSubject = c.Pipeline.RawSubject
		}},
		{"zero interval", func(c *Config) { c.Generator.Interval = 0 }},
		{"zero workers", func(c *Config) { c.Extractor.Workers = 0 }},
		{"bad fast threshold", func(c *Config) { c.Extractor.FASTThreshold = 300 }},
		{"postgres without dsn", func(c *Config) {
			c.Archiver.Backend = "postgres"
			c.Archiver.PostgresDSN = ""
		}},
		{"unknown backend", func(c *Config) { c.Archiver.Backend = "s3" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_UnmarshalForms(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalJSON([]byte(`"1.5s"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
