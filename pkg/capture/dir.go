package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirDevice replays image files from a directory in name order, looping
// forever. Useful for bench runs against recorded captures.
type DirDevice struct {
	cfg    Config
	logger *slog.Logger
	files  []string

	mu       sync.Mutex
	next     int
	seq      uint64
	inflight *Frame
	closed   bool
}

var dirExtensions = map[string]PixelFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".bmp":  FormatBMP,
}

// NewDirDevice lists cfg.Source and fails if no images are found.
func NewDirDevice(cfg Config, logger *slog.Logger) (*DirDevice, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("capture: read dir %q: %w", cfg.Source, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := dirExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(cfg.Source, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("capture: no images in %q", cfg.Source)
	}
	sort.Strings(files)

	logger.Info("dir capture ready", "dir", cfg.Source, "files", len(files))
	return &DirDevice{cfg: cfg, logger: logger, files: files}, nil
}

// AcquireFrame reads the next file.
func (d *DirDevice) AcquireFrame(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.inflight != nil {
		return nil, fmt.Errorf("capture: frame %d still in flight", d.inflight.Seq)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoFrame, filepath.Base(path), err)
	}

	d.seq++
	d.inflight = &Frame{
		Data:      data,
		Format:    dirExtensions[strings.ToLower(filepath.Ext(path))],
		Width:     cfg.Width,
		Height:    cfg.Height,
		Seq:       d.seq,
		Timestamp: time.Now(),
	}
	return d.inflight, nil
}

// ReleaseFrame returns the in-flight frame.
func (d *DirDevice) ReleaseFrame(f *Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f == nil || f != d.inflight {
		d.logger.Warn("dir capture: release of frame not in flight")
		return
	}
	d.inflight = nil
}

// Name returns "dir".
func (d *DirDevice) Name() string {
	return string(BackendDir)
}

// Close stops further captures.
func (d *DirDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ Device = (*DirDevice)(nil)
