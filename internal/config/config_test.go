package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/memory"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Inference.IdleDelay != time.Second || cfg.Stream.IdleDelay != 10*time.Millisecond {
		t.Errorf("unexpected delays: %v / %v", cfg.Inference.IdleDelay, cfg.Stream.IdleDelay)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Board != DefaultBoard {
		t.Errorf("board %q", cfg.Board)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgecam.yaml")
	data := []byte(`
board: esp32-s3
variant: vww01
capture:
  backend: mock
  width: 160
  height: 120
  format: rgb565
  quality: 70
inference:
  idle_delay: 250ms
  threshold: 60
stream:
  listen: ":9000"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Board != "esp32-s3" || cfg.Variant != "vww01" {
		t.Errorf("board/variant %s/%s", cfg.Board, cfg.Variant)
	}
	if cfg.Capture.Width != 160 || cfg.Capture.Format != capture.FormatRGB565 {
		t.Errorf("capture %+v", cfg.Capture)
	}
	if cfg.Inference.IdleDelay != 250*time.Millisecond || cfg.Inference.Threshold != 60 {
		t.Errorf("inference %+v", cfg.Inference)
	}
	// Untouched fields keep defaults
	if cfg.Inference.SkipDelay != 5*time.Millisecond {
		t.Errorf("skip delay %v", cfg.Inference.SkipDelay)
	}
	if cfg.Stream.Listen != ":9000" {
		t.Errorf("listen %q", cfg.Stream.Listen)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("board: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(EnvBoard, "arduino-giga")
	t.Setenv(EnvVariant, "ic01")
	t.Setenv(EnvListen, ":7000")
	t.Setenv(EnvLogLevel, "debug")

	cfg := DefaultConfig()
	cfg.LoadEnv()
	if cfg.Board != "arduino-giga" || cfg.Variant != "ic01" || cfg.Stream.Listen != ":7000" || cfg.LogLevel != "debug" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"unknown engine", func(c *Config) { c.Engine = "tpu" }, true},
		{"onnx without model", func(c *Config) { c.Engine = engine.BackendONNX }, true},
		{"onnx with model", func(c *Config) { c.Engine = engine.BackendONNX; c.Model = "m.onnx" }, false},
		{"negative timeout", func(c *Config) { c.Inference.LockTimeout = -1 }, true},
		{"bad transport", func(c *Config) { c.Bench.Transport = "usb" }, true},
		{"websocket without url", func(c *Config) { c.Bench.Transport = "websocket" }, true},
		{"bad capture", func(c *Config) { c.Capture.Quality = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolve_VisionProfile(t *testing.T) {
	cfg := DefaultConfig()
	p, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.ArenaSize != 160*1024 {
		t.Errorf("arena %d", p.ArenaSize)
	}
	if p.Pipeline == nil || p.Pipeline.ModelWidth != 96 || p.Pipeline.Channels != 1 {
		t.Fatalf("pipeline %+v", p.Pipeline)
	}
	if len(p.Regions) != 4 || p.Regions[3].Name != memory.RegionArena {
		t.Errorf("regions %+v", p.Regions)
	}
	if p.Baud(false) != 115200 || p.Baud(true) != 9600 {
		t.Errorf("baud %d/%d", p.Baud(false), p.Baud(true))
	}
}

func TestResolve_NonVision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Board = "esp32-wroom-32"
	cfg.Variant = "kws01"
	p, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Pipeline != nil {
		t.Error("kws01 should not get an image pipeline")
	}
	if len(p.Regions) != 1 || p.Regions[0].Size != 100*1024 {
		t.Errorf("regions %+v", p.Regions)
	}
}

func TestResolve_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Board = "pi-pico"
	if _, err := cfg.Resolve(); err == nil {
		t.Error("expected unknown board error")
	}
	cfg = DefaultConfig()
	cfg.Variant = "yolo"
	if _, err := cfg.Resolve(); err == nil {
		t.Error("expected unknown variant error")
	}
}
