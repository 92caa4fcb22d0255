package imgproc

import "errors"

var (
	// ErrDecode is returned when a frame payload cannot be decoded.
	ErrDecode = errors.New("imgproc: decode failed")

	// ErrGeometry is returned when image or buffer dimensions disagree.
	ErrGeometry = errors.New("imgproc: geometry mismatch")

	// ErrSourceTooSmall is returned by ResizeBilinear for sources narrower
	// or shorter than two pixels.
	ErrSourceTooSmall = errors.New("imgproc: source must be at least 2x2")

	// ErrUnsupportedFormat is returned for pixel formats Decode cannot read.
	ErrUnsupportedFormat = errors.New("imgproc: unsupported pixel format")
)
