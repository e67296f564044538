package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Millisecond, cfg.Grace)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CAMVIZ_LOG_LEVEL", "debug")
	t.Setenv("CAMVIZ_TICK", "50ms")
	t.Setenv("CAMVIZ_RATIO", "2.5")
	t.Setenv("CAMVIZ_DISPLAY", "true")
	t.Setenv("CAMVIZ_RECORD_PREFIX", "/data/rec")
	t.Setenv("CAMVIZ_SOURCES", "front=0,rear=v4l2:/dev/video2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, 50*time.Millisecond, cfg.Tick)
	assert.Equal(t, 2.5, cfg.Ratio)
	assert.True(t, cfg.Display)
	assert.Equal(t, "/data/rec", cfg.RecordPrefix)
	// untouched values keep their defaults
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 64, cfg.MaxCameras)

	sources, err := cfg.ParseSources()
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, Source{Name: "front", URI: "0"}, sources[0])
	assert.False(t, sources[0].IsV4L2())
	assert.True(t, sources[1].IsV4L2())
	assert.Equal(t, "/dev/video2", sources[1].DevicePath())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CAMVIZ_TICK", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"zero tick", func(c *Config) { c.Tick = 0 }},
		{"zero fps", func(c *Config) { c.RecordFPS = 0 }},
		{"zero marker radius", func(c *Config) { c.MarkerRadius = 0 }},
		{"negative grace", func(c *Config) { c.Grace = -time.Millisecond }},
		{"negative limits", func(c *Config) { c.MaxCameras = -1 }},
		{"negative ratio", func(c *Config) { c.Ratio = -1 }},
		{"source without uri", func(c *Config) { c.Sources = []string{"front="} }},
		{"source without separator", func(c *Config) { c.Sources = []string{"front"} }},
		{"duplicate source", func(c *Config) { c.Sources = []string{"a=0", "a=1"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseSourcesSkipsBlanks(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{" ", "cam0 = rtsp://10.0.0.5/stream?a=b"}

	sources, err := cfg.ParseSources()
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "cam0", sources[0].Name)
	assert.Equal(t, "rtsp://10.0.0.5/stream?a=b", sources[0].URI)
}

func TestLoadIgnoresUnprefixedVariables(t *testing.T) {
	t.Setenv("DISPLAY", ":0")
	t.Setenv("TICK", "nonsense")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Display)
	assert.Equal(t, 33*time.Millisecond, cfg.Tick)
}
