package edgecam

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/teslashibe/go-edgecam/internal/config"
	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/capture/webcam"
	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/engine/onnx"
	"github.com/teslashibe/go-edgecam/pkg/variant"
)

// NewDevice creates the configured capture backend.
func NewDevice(cfg capture.Config, logger *slog.Logger) (capture.Device, error) {
	if cfg.Backend == capture.BackendWebcam {
		return webcam.Open(cfg, logger)
	}
	return capture.NewDevice(cfg, logger)
}

// NewEngine creates the configured inference backend for v.
func NewEngine(cfg config.Config, v variant.Variant, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Engine {
	case engine.BackendMock, "":
		return engine.NewMock(v.MockConfig(), logger), nil
	case engine.BackendONNX:
		oc := onnx.DefaultConfig()
		oc.LibraryPath = cfg.ONNX.LibraryPath
		oc.Threads = cfg.ONNX.Threads
		return onnx.New(oc, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownBackend, cfg.Engine)
	}
}

// LoadModel reads the model file. The mock engine runs without one.
func LoadModel(cfg config.Config) ([]byte, error) {
	if cfg.Model == "" {
		if cfg.Engine == engine.BackendONNX {
			return nil, fmt.Errorf("edgecam: %s engine requires a model", cfg.Engine)
		}
		return engine.MockModel(nil), nil
	}
	data, err := os.ReadFile(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("edgecam: read model: %w", err)
	}
	return data, nil
}
