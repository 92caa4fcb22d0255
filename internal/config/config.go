// Package config loads edgecam settings from YAML and the environment and
// resolves them against the board and model tables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/detect"
	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/task"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBoard    = "esp32-cam"
	DefaultVariant  = "person"
	DefaultListen   = ":8080"
	DefaultLogLevel = "info"
)

// Config is the full process configuration.
type Config struct {
	// Board selects memory tiers and serial settings.
	Board string `yaml:"board"`

	// Variant selects the model (person, ic01, kws01, vww01, ad01, strww01).
	Variant string `yaml:"variant"`

	// Model is the path of the model file. Empty with the mock engine uses
	// a built-in blob.
	Model string `yaml:"model"`

	// Engine is the inference backend ("mock" or "onnx").
	Engine engine.Backend `yaml:"engine"`

	Capture   capture.Config  `yaml:"capture"`
	Inference InferenceConfig `yaml:"inference"`
	Stream    StreamConfig    `yaml:"stream"`
	ONNX      ONNXConfig      `yaml:"onnx"`
	Bench     BenchConfig     `yaml:"bench"`

	LogLevel string `yaml:"log_level"`
}

// InferenceConfig times the inference activity.
type InferenceConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
	IdleDelay   time.Duration `yaml:"idle_delay"`
	SkipDelay   time.Duration `yaml:"skip_delay"`
	Threshold   int8          `yaml:"threshold"`
}

// StreamConfig configures the HTTP stream server.
type StreamConfig struct {
	Listen      string        `yaml:"listen"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	IdleDelay   time.Duration `yaml:"idle_delay"`
	SkipDelay   time.Duration `yaml:"skip_delay"`
	Debug       bool          `yaml:"debug"` // enables the /debug overlay stream
}

// ONNXConfig configures the onnx engine backend.
type ONNXConfig struct {
	LibraryPath string `yaml:"library_path"`
	Threads     int    `yaml:"threads"`
}

// BenchConfig configures the benchmark harness device side.
type BenchConfig struct {
	// Transport is "serial" or "websocket".
	Transport string `yaml:"transport"`

	// Device is a tty path for serial (empty means stdio) or a URL for
	// websocket.
	Device string `yaml:"device"`

	// Energy selects energy mode timing, which uses the slower baud.
	Energy bool `yaml:"energy"`

	// ReadTimeout bounds each byte read from the host.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultConfig returns the ESP32-CAM person detection setup on the mock
// camera and engine.
func DefaultConfig() Config {
	return Config{
		Board:   DefaultBoard,
		Variant: DefaultVariant,
		Engine:  engine.BackendMock,
		Capture: capture.DefaultConfig(),
		Inference: InferenceConfig{
			LockTimeout: capture.DefaultLockTimeout,
			IdleDelay:   task.DefaultInferenceIdle,
			SkipDelay:   task.DefaultSkipDelay,
			Threshold:   detect.DefaultThreshold,
		},
		Stream: StreamConfig{
			Listen:      DefaultListen,
			LockTimeout: capture.DefaultLockTimeout,
			IdleDelay:   task.DefaultStreamIdle,
			SkipDelay:   task.DefaultSkipDelay,
			Debug:       true,
		},
		Bench: BenchConfig{
			Transport:   "serial",
			ReadTimeout: 100 * time.Millisecond,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Environment variables read by LoadEnv.
const (
	EnvBoard    = "EDGECAM_BOARD"
	EnvVariant  = "EDGECAM_VARIANT"
	EnvModel    = "EDGECAM_MODEL"
	EnvListen   = "EDGECAM_LISTEN"
	EnvLogLevel = "EDGECAM_LOG_LEVEL"
)

// LoadEnv overrides fields from the environment.
func (c *Config) LoadEnv() {
	override(&c.Board, EnvBoard)
	override(&c.Variant, EnvVariant)
	override(&c.Model, EnvModel)
	override(&c.Stream.Listen, EnvListen)
	override(&c.LogLevel, EnvLogLevel)
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that do not depend on the board and model tables.
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return err
	}
	switch c.Engine {
	case engine.BackendMock, engine.BackendONNX:
	default:
		return fmt.Errorf("config: %w: %q", engine.ErrUnknownBackend, c.Engine)
	}
	if c.Engine == engine.BackendONNX && c.Model == "" {
		return errors.New("config: onnx engine requires a model path")
	}
	if c.Inference.LockTimeout < 0 || c.Stream.LockTimeout < 0 {
		return errors.New("config: lock timeouts must not be negative")
	}
	if c.Inference.IdleDelay < 0 || c.Inference.SkipDelay < 0 || c.Stream.IdleDelay < 0 || c.Stream.SkipDelay < 0 {
		return errors.New("config: delays must not be negative")
	}
	switch c.Bench.Transport {
	case "serial", "websocket":
	default:
		return fmt.Errorf("config: unknown bench transport %q", c.Bench.Transport)
	}
	if c.Bench.Transport == "websocket" && c.Bench.Device == "" {
		return errors.New("config: websocket transport requires a device URL")
	}
	return nil
}
