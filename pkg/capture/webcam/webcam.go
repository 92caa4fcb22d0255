// Package webcam provides a capture.Device backed by OpenCV.
package webcam

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"gocv.io/x/gocv"
)

// Device reads frames from a camera and JPEG-encodes them, so downstream
// code sees the same encoded frames an ESP32 camera driver would hand out.
type Device struct {
	cfg    capture.Config
	logger *slog.Logger

	mu       sync.Mutex // Protects capture and the in-flight buffer
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	scaled   gocv.Mat
	inflight *capture.Frame
	buf      *gocv.NativeByteBuffer
	seq      uint64
	closed   bool
}

// Open opens cfg.Source, which is a device index ("0") or a stream URL.
func Open(cfg capture.Config, logger *slog.Logger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format != capture.FormatJPEG {
		return nil, fmt.Errorf("webcam: only jpeg output is supported, got %q", cfg.Format)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var source interface{} = cfg.Source
	if idx, err := strconv.Atoi(cfg.Source); err == nil {
		source = idx
	} else if cfg.Source == "" {
		source = 0
	}

	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("webcam: open %v: %w", source, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	logger.Info("webcam opened", "source", source, "width", cfg.Width, "height", cfg.Height)

	return &Device{
		cfg:    cfg,
		logger: logger,
		vc:     vc,
		mat:    gocv.NewMat(),
		scaled: gocv.NewMat(),
	}, nil
}

// AcquireFrame grabs and encodes one frame.
func (d *Device) AcquireFrame(ctx context.Context) (*capture.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, capture.ErrClosed
	}
	if d.inflight != nil {
		return nil, fmt.Errorf("webcam: frame %d still in flight", d.inflight.Seq)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, capture.ErrNoFrame
	}

	src := d.mat
	if d.mat.Cols() != d.cfg.Width || d.mat.Rows() != d.cfg.Height {
		gocv.Resize(d.mat, &d.scaled, image.Pt(d.cfg.Width, d.cfg.Height), 0, 0, gocv.InterpolationLinear)
		src = d.scaled
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{gocv.IMWriteJpegQuality, d.cfg.Quality})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", capture.ErrNoFrame, err)
	}

	d.seq++
	d.buf = buf
	d.inflight = &capture.Frame{
		Data:      buf.GetBytes(),
		Format:    capture.FormatJPEG,
		Width:     d.cfg.Width,
		Height:    d.cfg.Height,
		Seq:       d.seq,
		Timestamp: time.Now(),
	}
	return d.inflight, nil
}

// ReleaseFrame frees the native JPEG buffer backing f.
func (d *Device) ReleaseFrame(f *capture.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f == nil || f != d.inflight {
		d.logger.Warn("webcam: release of frame not in flight")
		return
	}
	d.buf.Close()
	d.buf = nil
	d.inflight = nil
}

// Name returns "webcam".
func (d *Device) Name() string {
	return string(capture.BackendWebcam)
}

// Close releases OpenCV resources.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.buf != nil {
		d.buf.Close()
		d.buf = nil
	}
	d.mat.Close()
	d.scaled.Close()
	return d.vc.Close()
}

var _ capture.Device = (*Device)(nil)
