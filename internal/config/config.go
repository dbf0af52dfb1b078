// Package config loads framexchange settings from a YAML file with
// FRAMEXCHANGE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/framexchange/media"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMEXCHANGE_"

// Config is the full run configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // auto, text or json

	API APIConfig `yaml:"api"`

	// OffHeap backs slots with anonymous mmap instead of pinned heap memory.
	OffHeap bool `yaml:"off_heap"`
	// MemoryLimit caps heap slot memory across all buffers, in bytes. Zero
	// means unlimited. Ignored with OffHeap.
	MemoryLimit int64 `yaml:"memory_limit"`

	// CaptureDir, when set, receives one framelog capture per buffer.
	CaptureDir string `yaml:"capture_dir"`

	Buffers []BufferConfig `yaml:"buffers"`
}

// APIConfig configures the debug HTTP API.
type APIConfig struct {
	Addr string `yaml:"addr"`
	TLS  bool   `yaml:"tls"`
}

// BufferConfig declares one buffer and the producer feeding it.
type BufferConfig struct {
	Key          string       `yaml:"key"`
	Capacity     int          `yaml:"capacity"`
	MaxFrameSize int          `yaml:"max_frame_size"`
	Source       SourceConfig `yaml:"source"`
}

// Source types.
const (
	SourceSynthetic = "synthetic"
	SourceMP4       = "mp4"
	SourceTS        = "ts"
	SourceLog       = "log"
	SourceNone      = "none"
)

// SourceConfig selects and parameterizes a replay source.
type SourceConfig struct {
	Type     string        `yaml:"type"`
	Path     string        `yaml:"path"`
	Kind     string        `yaml:"kind"`
	Realtime bool          `yaml:"realtime"`
	Loop     bool          `yaml:"loop"`
	Size     int           `yaml:"size"`
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
	GOP      int           `yaml:"gop"`

	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
	Rotation   int `yaml:"rotation"`
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// Defaults returns a Config with one synthetic 720p video buffer.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "auto",
		API:       APIConfig{Addr: ":8090"},
		OffHeap:   true,
		Buffers: []BufferConfig{{
			Key:          "video",
			Capacity:     media.DefaultCapacity,
			MaxFrameSize: media.DefaultMaxFrameSize,
			Source: SourceConfig{
				Type:     SourceSynthetic,
				Kind:     "video",
				Realtime: true,
				Size:     64 << 10,
				Interval: 33 * time.Millisecond,
				GOP:      30,
				Width:    1280,
				Height:   720,
			},
		}},
	}
}

// Load reads path over Defaults. An empty path returns Defaults. Unknown
// fields are rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides top-level settings from FRAMEXCHANGE_* variables read
// through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(name string) string { return getenv(EnvPrefix + name) }

	c.LogLevel = envOr(env("LOG_LEVEL"), c.LogLevel)
	c.LogFormat = envOr(env("LOG_FORMAT"), c.LogFormat)
	c.API.Addr = envOr(env("API_ADDR"), c.API.Addr)
	c.CaptureDir = envOr(env("CAPTURE_DIR"), c.CaptureDir)

	if v := env("API_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAPI_TLS: %w", EnvPrefix, err)
		}
		c.API.TLS = b
	}
	if v := env("OFF_HEAP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sOFF_HEAP: %w", EnvPrefix, err)
		}
		c.OffHeap = b
	}
	if v := env("MEMORY_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMEMORY_LIMIT: %w", EnvPrefix, err)
		}
		c.MemoryLimit = n
	}
	return nil
}

func envOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Validate fills per-buffer defaults and checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogFormat) {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want auto, text or json", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("memory_limit %d is negative", c.MemoryLimit))
	}

	seen := make(map[string]bool, len(c.Buffers))
	for i := range c.Buffers {
		b := &c.Buffers[i]
		if b.Key == "" {
			errs = append(errs, fmt.Errorf("buffers[%d]: key is required", i))
			continue
		}
		if seen[b.Key] {
			errs = append(errs, fmt.Errorf("buffers[%d]: duplicate key %q", i, b.Key))
		}
		seen[b.Key] = true

		if b.Capacity == 0 {
			b.Capacity = media.DefaultCapacity
		}
		if b.MaxFrameSize == 0 {
			b.MaxFrameSize = media.DefaultMaxFrameSize
		}
		if b.Capacity < 0 || b.MaxFrameSize < 0 {
			errs = append(errs, fmt.Errorf("buffer %q: capacity and max_frame_size must be positive", b.Key))
		}
		if err := b.Source.validate(); err != nil {
			errs = append(errs, fmt.Errorf("buffer %q: %w", b.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SourceConfig) validate() error {
	if s.Type == "" {
		s.Type = SourceNone
	}
	if s.Kind == "" {
		s.Kind = "video"
	}
	if _, err := media.ParseKind(s.Kind); err != nil {
		return err
	}

	switch s.Type {
	case SourceNone:
	case SourceSynthetic:
		if s.Size <= 0 {
			return fmt.Errorf("synthetic source: size must be positive")
		}
		if s.Interval <= 0 {
			return fmt.Errorf("synthetic source: interval must be positive")
		}
		if !media.ValidRotation(s.Rotation) {
			return fmt.Errorf("synthetic source: rotation %d", s.Rotation)
		}
	case SourceMP4, SourceTS, SourceLog:
		if s.Path == "" {
			return fmt.Errorf("%s source: path is required", s.Type)
		}
	default:
		return fmt.Errorf("unknown source type %q", s.Type)
	}
	return nil
}
