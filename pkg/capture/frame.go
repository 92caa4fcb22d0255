// Package capture owns the single physical capture device and the lock that
// time-shares it between the inference loop and the network stream.
//
// A Frame is only valid between a successful Locker.Acquire and the matching
// Device.ReleaseFrame; callers must return every frame before releasing the
// lock.
package capture

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat identifies how Frame.Data is encoded.
type PixelFormat string

const (
	FormatJPEG      PixelFormat = "jpeg"
	FormatPNG       PixelFormat = "png"
	FormatBMP       PixelFormat = "bmp"
	FormatRGB888    PixelFormat = "rgb888"
	FormatRGB565    PixelFormat = "rgb565"
	FormatGrayscale PixelFormat = "grayscale"
)

// ParsePixelFormat accepts the names above, case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch f := PixelFormat(strings.ToLower(s)); f {
	case FormatJPEG, FormatPNG, FormatBMP, FormatRGB888, FormatRGB565, FormatGrayscale:
		return f, nil
	case "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("capture: unknown pixel format %q", s)
}

// Encoded reports whether the format is a compressed container.
func (f PixelFormat) Encoded() bool {
	return f == FormatJPEG || f == FormatPNG || f == FormatBMP
}

// MIME returns the content type used when streaming frames of this format.
func (f PixelFormat) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatBMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Frame is one hardware-owned image buffer.
type Frame struct {
	Data      []byte
	Format    PixelFormat
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// Len returns the payload length in bytes.
func (f *Frame) Len() int {
	return len(f.Data)
}
