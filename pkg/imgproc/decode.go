// Package imgproc turns captured frames into quantized model input:
// decode to RGB888, bilinear resize, luma reduction and signed hand-off.
//
// All functions write into caller-provided buffers and never allocate
// per frame on the hot path, except for the compressed-format decoders.
package imgproc

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/teslashibe/go-edgecam/pkg/capture"
)

// Decode converts data in the given format into packed RGB888 in dst.
// The decoded image must be exactly w by h pixels and dst must hold
// w*h*3 bytes.
func Decode(dst, data []byte, format capture.PixelFormat, w, h int) error {
	need := w * h * 3
	if len(dst) < need {
		return fmt.Errorf("%w: destination holds %d bytes, need %d", ErrGeometry, len(dst), need)
	}
	dst = dst[:need]

	switch format {
	case capture.FormatJPEG, capture.FormatPNG, capture.FormatBMP:
		return decodeImage(dst, data, w, h)

	case capture.FormatRGB888:
		if len(data) != need {
			return fmt.Errorf("%w: rgb888 payload %d bytes, want %d", ErrGeometry, len(data), need)
		}
		copy(dst, data)
		return nil

	case capture.FormatRGB565:
		if len(data) != w*h*2 {
			return fmt.Errorf("%w: rgb565 payload %d bytes, want %d", ErrGeometry, len(data), w*h*2)
		}
		for i := 0; i < w*h; i++ {
			v := uint16(data[2*i])<<8 | uint16(data[2*i+1])
			r := uint8(v >> 11 & 0x1f)
			g := uint8(v >> 5 & 0x3f)
			b := uint8(v & 0x1f)
			dst[3*i+0] = r<<3 | r>>2
			dst[3*i+1] = g<<2 | g>>4
			dst[3*i+2] = b<<3 | b>>2
		}
		return nil

	case capture.FormatGrayscale:
		if len(data) != w*h {
			return fmt.Errorf("%w: grayscale payload %d bytes, want %d", ErrGeometry, len(data), w*h)
		}
		for i, y := range data {
			dst[3*i+0] = y
			dst[3*i+1] = y
			dst[3*i+2] = y
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeImage(dst, data []byte, w, h int) error {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("%w: decoded %dx%d, want %dx%d", ErrGeometry, b.Dx(), b.Dy(), w, h)
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		out := dst[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			out[3*x+0] = row[4*x+0]
			out[3*x+1] = row[4*x+1]
			out[3*x+2] = row[4*x+2]
		}
	}
	return nil
}

// ToImage wraps packed RGB888 pixels as an image for re-encoding.
func ToImage(rgb []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[4*i+0] = rgb[3*i+0]
		img.Pix[4*i+1] = rgb[3*i+1]
		img.Pix[4*i+2] = rgb[3*i+2]
		img.Pix[4*i+3] = 0xff
	}
	return img
}
