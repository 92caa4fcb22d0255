package imgproc

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// EncodeDebugJPEG renders rgb as a JPEG with label drawn in the top-left
// corner on a dark band.
func EncodeDebugJPEG(rgb []byte, w, h int, label string, quality int) ([]byte, error) {
	img := ToImage(rgb, w, h)

	if label != "" {
		face := basicfont.Face7x13
		band := image.Rect(0, 0, w, face.Height+4)
		draw.Draw(img, band, image.NewUniform(color.NRGBA{A: 180}), image.Point{}, draw.Over)

		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.NRGBA{R: 0x40, G: 0xff, B: 0x40, A: 0xff}),
			Face: face,
			Dot:  fixed.P(3, face.Ascent+2),
		}
		d.DrawString(label)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
