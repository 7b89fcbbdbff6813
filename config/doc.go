// Package config loads and validates pipeline configuration.
//
// Configuration is layered: built-in defaults, then an optional JSON file,
// then VISIONSTREAM_* environment variable overrides. Durations in the JSON
// file are written as strings ("500ms", "2s") and parsed on load.
package config
