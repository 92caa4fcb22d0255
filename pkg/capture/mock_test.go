package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestMockDevice_AcquireRelease(t *testing.T) {
	cfg := DefaultConfig()
	dev, err := NewMockDevice(cfg, nil)
	if err != nil {
		t.Fatalf("NewMockDevice failed: %v", err)
	}
	defer dev.Close()

	ctx := context.Background()
	f, err := dev.AcquireFrame(ctx)
	if err != nil {
		t.Fatalf("AcquireFrame failed: %v", err)
	}
	if f.Format != FormatJPEG || f.Width != 320 || f.Height != 240 {
		t.Errorf("unexpected frame: %s %dx%d", f.Format, f.Width, f.Height)
	}
	if f.Len() == 0 {
		t.Fatal("expected non-empty frame")
	}

	// The payload must be a decodable JPEG of the configured size
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("frame does not decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("decoded size %dx%d", b.Dx(), b.Dy())
	}

	if got := dev.Outstanding(); got != 1 {
		t.Errorf("expected 1 outstanding, got %d", got)
	}
	dev.ReleaseFrame(f)
	if got := dev.Outstanding(); got != 0 {
		t.Errorf("expected 0 outstanding, got %d", got)
	}
}

func TestMockDevice_DoubleRelease(t *testing.T) {
	dev, err := NewMockDevice(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewMockDevice failed: %v", err)
	}

	f, err := dev.AcquireFrame(context.Background())
	if err != nil {
		t.Fatalf("AcquireFrame failed: %v", err)
	}
	dev.ReleaseFrame(f)
	dev.ReleaseFrame(f)

	stats := dev.Stats()
	if stats.Released != 1 {
		t.Errorf("expected 1 release, got %d", stats.Released)
	}
	if stats.DoubleReleases != 1 {
		t.Errorf("expected 1 double release, got %d", stats.DoubleReleases)
	}
}

func TestMockDevice_FailEvery(t *testing.T) {
	dev, err := NewMockDevice(DefaultConfig(), nil, WithFailEvery(3))
	if err != nil {
		t.Fatalf("NewMockDevice failed: %v", err)
	}

	ctx := context.Background()
	failures := 0
	for i := 0; i < 9; i++ {
		f, err := dev.AcquireFrame(ctx)
		if err != nil {
			if !errors.Is(err, ErrNoFrame) {
				t.Fatalf("expected ErrNoFrame, got %v", err)
			}
			failures++
			continue
		}
		dev.ReleaseFrame(f)
	}

	if failures != 3 {
		t.Errorf("expected 3 failures, got %d", failures)
	}
	if got := dev.Stats().Failures; got != 3 {
		t.Errorf("expected failure counter 3, got %d", got)
	}
}

func TestMockDevice_Closed(t *testing.T) {
	dev, err := NewMockDevice(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewMockDevice failed: %v", err)
	}
	dev.Close()

	if _, err := dev.AcquireFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMockDevice_RawFormats(t *testing.T) {
	tests := []struct {
		format PixelFormat
		bpp    int
	}{
		{FormatRGB888, 3},
		{FormatRGB565, 2},
		{FormatGrayscale, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Width, cfg.Height = 16, 8
			cfg.Format = tt.format

			dev, err := NewMockDevice(cfg, nil)
			if err != nil {
				t.Fatalf("NewMockDevice failed: %v", err)
			}
			f, err := dev.AcquireFrame(context.Background())
			if err != nil {
				t.Fatalf("AcquireFrame failed: %v", err)
			}
			defer dev.ReleaseFrame(f)

			if want := 16 * 8 * tt.bpp; f.Len() != want {
				t.Errorf("expected %d bytes, got %d", want, f.Len())
			}
		})
	}
}

func TestNewDevice_UnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "sonar"
	if _, err := NewDevice(cfg, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"too small", func(c *Config) { c.Width = 1 }, true},
		{"bad quality", func(c *Config) { c.Quality = 0 }, true},
		{"negative fail_every", func(c *Config) { c.FailEvery = -1 }, true},
		{"bad format", func(c *Config) { c.Format = "webp" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirDevice_Replay(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"b.png", "a.jpg"} {
		img := imaging.New(8+i*8, 4, color.White)
		if err := imaging.Save(img, filepath.Join(dir, name), imaging.JPEGQuality(90)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Backend = BackendDir
	cfg.Source = dir
	dev, err := NewDevice(cfg, nil)
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	defer dev.Close()

	ctx := context.Background()
	wantOrder := []struct {
		format PixelFormat
		width  int
	}{
		{FormatJPEG, 16}, // a.jpg
		{FormatPNG, 8},   // b.png
		{FormatJPEG, 16}, // loops
	}
	for i, want := range wantOrder {
		f, err := dev.AcquireFrame(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.Format != want.format || f.Width != want.width {
			t.Errorf("frame %d: got %s width %d, want %s width %d", i, f.Format, f.Width, want.format, want.width)
		}
		dev.ReleaseFrame(f)
	}
}

func TestDirDevice_OneFrameInFlight(t *testing.T) {
	dir := t.TempDir()
	if err := imaging.Save(imaging.New(4, 4, color.Black), filepath.Join(dir, "x.png")); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Source = dir
	dev, err := NewDirDevice(cfg, nil)
	if err != nil {
		t.Fatalf("NewDirDevice failed: %v", err)
	}

	ctx := context.Background()
	f, err := dev.AcquireFrame(ctx)
	if err != nil {
		t.Fatalf("AcquireFrame failed: %v", err)
	}
	if _, err := dev.AcquireFrame(ctx); err == nil {
		t.Error("expected error while a frame is in flight")
	}
	dev.ReleaseFrame(f)
	if _, err := dev.AcquireFrame(ctx); err != nil {
		t.Errorf("AcquireFrame after release failed: %v", err)
	}
}
