// Package config provides configuration management for camviz.
// Configuration starts from Default and is overridden by CAMVIZ_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Prefix is the environment variable prefix.
const Prefix = "CAMVIZ"

// Config holds all configuration for camviz.
type Config struct {
	// LogLevel is a zerolog level name.
	// Default: "info"
	LogLevel string `split_words:"true"`

	// ListenAddr is the address of the HTTP control server.
	// Default: ":8090"
	ListenAddr string `split_words:"true"`

	// Tick is the processing loop period.
	// Default: 33ms
	Tick time.Duration `split_words:"true"`

	// RecordFPS is the frame rate written into recordings.
	// Default: 30
	RecordFPS float64 `split_words:"true"`

	// MarkerRadius is the radius in pixels of overlay markers.
	// Default: 5
	MarkerRadius int `split_words:"true"`

	// Grace is the delay before a missed camera lookup is retried.
	// Default: 1ms
	Grace time.Duration `split_words:"true"`

	// MaxCameras caps the registry size. Zero means unlimited.
	// Default: 64
	MaxCameras int `split_words:"true"`

	// MaxOverlays caps the overlays of one camera. Zero means unlimited.
	// Default: 32
	MaxOverlays int `split_words:"true"`

	// Stream names the global stream. Empty disables it.
	// Default: ""
	Stream string `split_words:"true"`

	// Sources lists frame producers as name=uri pairs. A uri of the form
	// v4l2:/dev/videoN opens a V4L2 device, anything else goes to OpenCV
	// (device index, file or network URL).
	// Default: none
	Sources []string `split_words:"true"`

	// RegisterSources adds a camera for every source at startup.
	// Default: true
	RegisterSources bool `split_words:"true"`

	// Display, Ratio, FOV, Record and RecordPrefix seed the runtime settings.
	Display      bool    `split_words:"true"`
	Ratio        float64 `split_words:"true"`
	FOV          bool    `split_words:"true"`
	Record       bool    `split_words:"true"`
	RecordPrefix string  `split_words:"true"`

	// ReportEvery is how often pipeline throughput is logged. Zero disables it.
	// Default: 30s
	ReportEvery time.Duration `split_words:"true"`
}

// Source is one configured frame producer.
type Source struct {
	Name string
	URI  string
}

// V4L2Scheme marks a source uri as a V4L2 device path.
const V4L2Scheme = "v4l2:"

// IsV4L2 reports whether the source is a V4L2 device.
func (s Source) IsV4L2() bool {
	return strings.HasPrefix(s.URI, V4L2Scheme)
}

// DevicePath returns the device path of a V4L2 source.
func (s Source) DevicePath() string {
	return strings.TrimPrefix(s.URI, V4L2Scheme)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		ListenAddr:      ":8090",
		Tick:            33 * time.Millisecond,
		RecordFPS:       30,
		MarkerRadius:    5,
		Grace:           time.Millisecond,
		MaxCameras:      64,
		MaxOverlays:     32,
		RegisterSources: true,
		ReportEvery:     30 * time.Second,
	}
}

// Load reads CAMVIZ_* environment variables over the defaults and
// validates the result.
//
// Environment variables:
//   - CAMVIZ_LOG_LEVEL: trace, debug, info, warn, error
//   - CAMVIZ_LISTEN_ADDR: control server address
//   - CAMVIZ_TICK: loop period (Go duration)
//   - CAMVIZ_RECORD_FPS: recording frame rate
//   - CAMVIZ_MARKER_RADIUS: marker radius in pixels
//   - CAMVIZ_GRACE: lookup retry delay (Go duration)
//   - CAMVIZ_MAX_CAMERAS, CAMVIZ_MAX_OVERLAYS: registry limits
//   - CAMVIZ_STREAM: global stream name
//   - CAMVIZ_SOURCES: comma-separated name=uri pairs
//   - CAMVIZ_REGISTER_SOURCES: register a camera per source (true/false)
//   - CAMVIZ_DISPLAY, CAMVIZ_RATIO, CAMVIZ_FOV, CAMVIZ_RECORD, CAMVIZ_RECORD_PREFIX
//   - CAMVIZ_REPORT_EVERY: stats log period (Go duration)
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LogLevel %q is not a valid level", c.LogLevel)
	}
	if c.ListenAddr == "" {
		return errors.New("ListenAddr cannot be empty")
	}
	if c.Tick <= 0 {
		return errors.New("Tick must be positive")
	}
	if c.RecordFPS <= 0 {
		return errors.New("RecordFPS must be positive")
	}
	if c.MarkerRadius < 1 {
		return errors.New("MarkerRadius must be at least 1")
	}
	if c.Grace < 0 {
		return errors.New("Grace cannot be negative")
	}
	if c.MaxCameras < 0 || c.MaxOverlays < 0 {
		return errors.New("MaxCameras and MaxOverlays cannot be negative")
	}
	if c.Ratio < 0 {
		return errors.New("Ratio cannot be negative")
	}
	if c.ReportEvery < 0 {
		return errors.New("ReportEvery cannot be negative")
	}
	if _, err := c.ParseSources(); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// ParseSources splits Sources into name and uri. Names must be unique.
func (c *Config) ParseSources() ([]Source, error) {
	seen := make(map[string]bool, len(c.Sources))
	out := make([]Source, 0, len(c.Sources))
	for _, raw := range c.Sources {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, uri, ok := strings.Cut(raw, "=")
		name, uri = strings.TrimSpace(name), strings.TrimSpace(uri)
		if !ok || name == "" || uri == "" {
			return nil, fmt.Errorf("source %q must be name=uri", raw)
		}
		if seen[name] {
			return nil, fmt.Errorf("source %q is listed twice", name)
		}
		seen[name] = true
		out = append(out, Source{Name: name, URI: uri})
	}
	return out, nil
}
