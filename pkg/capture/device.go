package capture

import (
	"context"
	"fmt"
	"log/slog"
)

// Device is the capture hardware collaborator. Both methods must only be
// called while holding the coordinating Locker.
type Device interface {
	// AcquireFrame captures one frame. The frame stays owned by the caller
	// until ReleaseFrame.
	AcquireFrame(ctx context.Context) (*Frame, error)

	// ReleaseFrame returns a frame to the driver. Each acquired frame must
	// be released exactly once.
	ReleaseFrame(f *Frame)

	// Name returns the backend name (e.g. "mock", "dir", "webcam").
	Name() string

	// Close releases the device.
	Close() error
}

// Backend selects a Device implementation.
type Backend string

const (
	// BackendMock synthesizes frames in memory.
	BackendMock Backend = "mock"
	// BackendDir replays image files from a directory.
	BackendDir Backend = "dir"
	// BackendWebcam reads from a V4L2/AVFoundation camera via OpenCV.
	// It is constructed by the capture/webcam package.
	BackendWebcam Backend = "webcam"
)

// Config holds capture device settings.
type Config struct {
	Backend Backend     `yaml:"backend" json:"backend"`
	Width   int         `yaml:"width" json:"width"`
	Height  int         `yaml:"height" json:"height"`
	Format  PixelFormat `yaml:"format" json:"format"`
	Quality int         `yaml:"quality" json:"quality"` // JPEG quality 1-100

	// Source is backend specific: a directory for dir, a device index or
	// URL for webcam. Ignored by mock.
	Source string `yaml:"source" json:"source"`

	// FailEvery makes the mock backend fail every Nth capture. 0 disables.
	FailEvery int `yaml:"fail_every" json:"fail_every"`
}

// DefaultConfig returns the QVGA JPEG configuration used by the ESP32-CAM.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMock,
		Width:   320,
		Height:  240,
		Format:  FormatJPEG,
		Quality: 80,
	}
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Width < 2 || c.Height < 2 {
		return fmt.Errorf("capture: resolution must be at least 2x2, got %dx%d", c.Width, c.Height)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("capture: quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.FailEvery < 0 {
		return fmt.Errorf("capture: fail_every must not be negative, got %d", c.FailEvery)
	}
	if _, err := ParsePixelFormat(string(c.Format)); err != nil {
		return err
	}
	return nil
}

// NewDevice creates the in-process backends. The webcam backend lives in
// its own package so that OpenCV is only linked by binaries that need it.
func NewDevice(cfg Config, logger *slog.Logger) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating capture device",
		"backend", cfg.Backend,
		"width", cfg.Width,
		"height", cfg.Height,
		"format", cfg.Format,
	)

	switch cfg.Backend {
	case BackendMock, "":
		var opts []MockOption
		if cfg.FailEvery > 0 {
			opts = append(opts, WithFailEvery(cfg.FailEvery))
		}
		return NewMockDevice(cfg, logger, opts...)
	case BackendDir:
		return NewDirDevice(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
