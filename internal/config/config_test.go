package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/framexchange/media"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framexchange.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if len(cfg.Buffers) != 1 || cfg.Buffers[0].Capacity != media.DefaultCapacity {
		t.Errorf("default buffers: %+v", cfg.Buffers)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Addr != Defaults().API.Addr {
		t.Errorf("api addr: %q", cfg.API.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
log_level: debug
api:
  addr: 127.0.0.1:9000
  tls: true
off_heap: false
memory_limit: 1048576
buffers:
  - key: cam0
    capacity: 4
    source:
      type: mp4
      path: clip.mp4
      kind: video
      realtime: true
      loop: true
  - key: mic0
    max_frame_size: 4096
    source:
      type: synthetic
      kind: audio
      size: 960
      interval: 20ms
      sample_rate: 48000
      channels: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.API.Addr != "127.0.0.1:9000" || !cfg.API.TLS {
		t.Errorf("top level: %+v", cfg)
	}
	if cfg.OffHeap || cfg.MemoryLimit != 1<<20 {
		t.Errorf("memory: off_heap %v limit %d", cfg.OffHeap, cfg.MemoryLimit)
	}
	if cfg.LogFormat != "auto" {
		t.Errorf("unset field lost its default: %q", cfg.LogFormat)
	}
	if len(cfg.Buffers) != 2 {
		t.Fatalf("buffers: %+v", cfg.Buffers)
	}

	cam := cfg.Buffers[0]
	if cam.Capacity != 4 || cam.MaxFrameSize != media.DefaultMaxFrameSize {
		t.Errorf("cam0 sizing: %+v", cam)
	}
	if !cam.Source.Loop || cam.Source.Path != "clip.mp4" {
		t.Errorf("cam0 source: %+v", cam.Source)
	}

	mic := cfg.Buffers[1]
	if mic.Capacity != media.DefaultCapacity || mic.MaxFrameSize != 4096 {
		t.Errorf("mic0 sizing: %+v", mic)
	}
	if mic.Source.Interval != 20*time.Millisecond || mic.Source.SampleRate != 48000 {
		t.Errorf("mic0 source: %+v", mic.Source)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "buffer_count: 3\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"FRAMEXCHANGE_LOG_LEVEL":    "warn",
		"FRAMEXCHANGE_API_ADDR":     ":7000",
		"FRAMEXCHANGE_API_TLS":      "true",
		"FRAMEXCHANGE_OFF_HEAP":     "false",
		"FRAMEXCHANGE_MEMORY_LIMIT": "2048",
		"FRAMEXCHANGE_CAPTURE_DIR":  "/tmp/captures",
	}
	cfg := Defaults()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" || cfg.API.Addr != ":7000" || !cfg.API.TLS {
		t.Errorf("overrides: %+v", cfg)
	}
	if cfg.OffHeap || cfg.MemoryLimit != 2048 || cfg.CaptureDir != "/tmp/captures" {
		t.Errorf("memory overrides: %+v", cfg)
	}
	if cfg.LogFormat != "auto" {
		t.Errorf("unset variable changed log format: %q", cfg.LogFormat)
	}

	bad := Defaults()
	err := bad.ApplyEnv(func(k string) string {
		if k == "FRAMEXCHANGE_MEMORY_LIMIT" {
			return "lots"
		}
		return ""
	})
	if err == nil || !strings.Contains(err.Error(), "MEMORY_LIMIT") {
		t.Errorf("bad memory limit: got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	cfg := Config{
		LogLevel:  "loud",
		LogFormat: "xml",
		Buffers: []BufferConfig{
			{Key: ""},
			{Key: "a", Source: SourceConfig{Type: SourceMP4}},
			{Key: "a"},
			{Key: "b", Capacity: -1},
			{Key: "c", Source: SourceConfig{Type: "rtsp"}},
			{Key: "d", Source: SourceConfig{Type: SourceSynthetic, Size: 10, Interval: time.Millisecond, Rotation: 45}},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"log_format", "unknown log level", "key is required", "path is required", "duplicate key", "must be positive", "rtsp", "rotation 45"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}

func TestValidateFileSources(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{SourceMP4, SourceTS, SourceLog} {
		cfg := Defaults()
		cfg.Buffers[0].Source = SourceConfig{Type: typ}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), typ+" source: path is required") {
			t.Errorf("%s without path: err = %v", typ, err)
		}

		cfg.Buffers[0].Source = SourceConfig{Type: typ, Path: "in." + typ}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s with path: %v", typ, err)
		}
		if got := cfg.Buffers[0].Source.Kind; got != "video" {
			t.Errorf("%s kind = %q, want video", typ, got)
		}
	}
}
