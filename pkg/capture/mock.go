package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

// mockRingSize is how many distinct synthetic frames are cycled through.
const mockRingSize = 8

// MockDevice synthesizes frames in memory and tracks ownership so tests can
// check that every acquired frame is returned exactly once.
type MockDevice struct {
	cfg    Config
	logger *slog.Logger

	ring [][]byte
	seq  atomic.Uint64

	failFunc func(seq uint64) bool
	delay    time.Duration

	mu       sync.Mutex
	inflight map[*Frame]struct{}
	closed   bool

	acquired       atomic.Int64
	released       atomic.Int64
	failures       atomic.Int64
	doubleReleases atomic.Int64
}

// MockOption configures a MockDevice.
type MockOption func(*MockDevice)

// WithFailEvery makes every nth capture fail.
func WithFailEvery(n int) MockOption {
	return func(m *MockDevice) {
		m.failFunc = func(seq uint64) bool { return n > 0 && seq%uint64(n) == 0 }
	}
}

// WithFailFunc installs an arbitrary failure predicate over the 1-based
// capture sequence number.
func WithFailFunc(fn func(seq uint64) bool) MockOption {
	return func(m *MockDevice) { m.failFunc = fn }
}

// WithCaptureDelay simulates sensor exposure time.
func WithCaptureDelay(d time.Duration) MockOption {
	return func(m *MockDevice) { m.delay = d }
}

// WithFrames replaces the synthetic ring with caller supplied payloads.
func WithFrames(frames ...[]byte) MockOption {
	return func(m *MockDevice) {
		if len(frames) > 0 {
			m.ring = frames
		}
	}
}

// NewMockDevice creates a mock device producing cfg.Format frames.
func NewMockDevice(cfg Config, logger *slog.Logger, opts ...MockOption) (*MockDevice, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockDevice{
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[*Frame]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ring == nil {
		ring, err := synthesizeRing(cfg)
		if err != nil {
			return nil, err
		}
		m.ring = ring
	}
	return m, nil
}

// synthesizeRing renders a bright block sweeping across a gradient.
func synthesizeRing(cfg Config) ([][]byte, error) {
	ring := make([][]byte, mockRingSize)
	for i := range ring {
		img := imaging.New(cfg.Width, cfg.Height, color.NRGBA{R: uint8(40 + 20*i), G: 60, B: 90, A: 255})
		block := imaging.New(cfg.Width/4, cfg.Height/2, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
		img = imaging.Paste(img, block, image.Pt(i*cfg.Width/mockRingSize, cfg.Height/4))

		data, err := EncodeImage(img, cfg.Format, cfg.Quality)
		if err != nil {
			return nil, fmt.Errorf("capture: synthesize frame %d: %w", i, err)
		}
		ring[i] = data
	}
	return ring, nil
}

// EncodeImage serializes img into the given pixel format.
func EncodeImage(img image.Image, format PixelFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	case FormatBMP:
		if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
			return nil, err
		}
	case FormatRGB888, FormatRGB565, FormatGrayscale:
		return rawPixels(img, format), nil
	default:
		return nil, fmt.Errorf("capture: cannot encode %q", format)
	}
	return buf.Bytes(), nil
}

func rawPixels(img image.Image, format PixelFormat) []byte {
	b := img.Bounds()
	var out []byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			switch format {
			case FormatRGB888:
				out = append(out, c.R, c.G, c.B)
			case FormatRGB565:
				v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
				out = append(out, byte(v>>8), byte(v))
			case FormatGrayscale:
				out = append(out, color.GrayModel.Convert(c).(color.Gray).Y)
			}
		}
	}
	return out
}

// AcquireFrame implements Device.
func (m *MockDevice) AcquireFrame(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}

	seq := m.seq.Add(1)
	if m.failFunc != nil && m.failFunc(seq) {
		m.failures.Add(1)
		return nil, fmt.Errorf("%w: injected failure at seq %d", ErrNoFrame, seq)
	}

	f := &Frame{
		Data:      m.ring[int(seq-1)%len(m.ring)],
		Format:    m.cfg.Format,
		Width:     m.cfg.Width,
		Height:    m.cfg.Height,
		Seq:       seq,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	m.inflight[f] = struct{}{}
	m.mu.Unlock()
	m.acquired.Add(1)
	return f, nil
}

// ReleaseFrame implements Device.
func (m *MockDevice) ReleaseFrame(f *Frame) {
	if f == nil {
		return
	}
	m.mu.Lock()
	_, ok := m.inflight[f]
	delete(m.inflight, f)
	m.mu.Unlock()

	if !ok {
		m.doubleReleases.Add(1)
		m.logger.Warn("mock capture: release of frame not in flight", "seq", f.Seq)
		return
	}
	m.released.Add(1)
}

// Name returns "mock".
func (m *MockDevice) Name() string {
	return string(BackendMock)
}

// Close marks the device closed. Frames still in flight stay counted.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Outstanding returns the number of frames acquired but not yet released.
func (m *MockDevice) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// MockStats counts device activity.
type MockStats struct {
	Acquired       int64 `json:"acquired"`
	Released       int64 `json:"released"`
	Failures       int64 `json:"failures"`
	DoubleReleases int64 `json:"double_releases"`
}

// Stats returns device counters.
func (m *MockDevice) Stats() MockStats {
	return MockStats{
		Acquired:       m.acquired.Load(),
		Released:       m.released.Load(),
		Failures:       m.failures.Load(),
		DoubleReleases: m.doubleReleases.Load(),
	}
}

// Ensure MockDevice implements Device.
var _ Device = (*MockDevice)(nil)
