package imgproc

import (
	"fmt"
	"math"
)

// SourceCoord maps output index out onto the source axis using pixel-center
// alignment. It returns the left/top neighbour index and the blend weight
// of the right/bottom neighbour. The neighbour pair idx, idx+1 always lies
// inside [0, srcDim-1].
func SourceCoord(out int, scale float64, srcDim int) (idx int, frac float64) {
	s := (float64(out)+0.5)*scale - 0.5
	if s < 0 {
		s = 0
	}
	if max := float64(srcDim - 1); s > max {
		s = max
	}
	idx = int(math.Floor(s))
	if idx > srcDim-2 {
		idx = srcDim - 2
	}
	return idx, s - float64(idx)
}

// ResizeBilinear scales a packed src image of srcW*srcH pixels with the
// given channel count into dst of dstW*dstH pixels, same channel count.
func ResizeBilinear(dst, src []byte, srcW, srcH, dstW, dstH, channels int) error {
	if srcW < 2 || srcH < 2 {
		return fmt.Errorf("%w: got %dx%d", ErrSourceTooSmall, srcW, srcH)
	}
	if dstW < 1 || dstH < 1 || channels < 1 {
		return fmt.Errorf("%w: output %dx%dx%d", ErrGeometry, dstW, dstH, channels)
	}
	if len(src) < srcW*srcH*channels {
		return fmt.Errorf("%w: source holds %d bytes, need %d", ErrGeometry, len(src), srcW*srcH*channels)
	}
	if len(dst) < dstW*dstH*channels {
		return fmt.Errorf("%w: destination holds %d bytes, need %d", ErrGeometry, len(dst), dstW*dstH*channels)
	}

	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)
	stride := srcW * channels

	for y := 0; y < dstH; y++ {
		y0, fy := SourceCoord(y, scaleY, srcH)
		row0 := src[y0*stride:]
		row1 := src[(y0+1)*stride:]

		for x := 0; x < dstW; x++ {
			x0, fx := SourceCoord(x, scaleX, srcW)
			i00 := x0 * channels
			i01 := (x0 + 1) * channels
			out := dst[(y*dstW+x)*channels:]

			for c := 0; c < channels; c++ {
				top := float64(row0[i00+c])*(1-fx) + float64(row0[i01+c])*fx
				bot := float64(row1[i00+c])*(1-fx) + float64(row1[i01+c])*fx
				v := math.Round(top*(1-fy) + bot*fy)
				if v > 255 {
					v = 255
				} else if v < 0 {
					v = 0
				}
				out[c] = uint8(v)
			}
		}
	}
	return nil
}
