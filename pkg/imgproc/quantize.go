package imgproc

import "fmt"

// Luma weights as 10-bit fixed point: 0.299, 0.587 and 0.114 scaled by 1024
// and rounded so that they sum to 1024.
const (
	lumaR = 305
	lumaG = 600
	lumaB = 119
)

// Luma returns the signed luma of one RGB pixel. White maps to 127 and
// black to -128.
func Luma(r, g, b uint8) int8 {
	y := (lumaR*int(r) + lumaG*int(g) + lumaB*int(b)) >> 10
	return int8(y - 128)
}

// ToSignedLuma reduces pixels packed RGB888 pixels in src to one signed
// byte each in dst. Values in dst are int8 two's-complement.
func ToSignedLuma(dst, src []byte, pixels int) error {
	if len(src) < pixels*3 || len(dst) < pixels {
		return fmt.Errorf("%w: %d pixels into src %d / dst %d bytes", ErrGeometry, pixels, len(src), len(dst))
	}
	for i := 0; i < pixels; i++ {
		dst[i] = byte(Luma(src[3*i], src[3*i+1], src[3*i+2]))
	}
	return nil
}

// ToSigned recentres unsigned samples around zero (v-128) for models that
// take all three colour channels.
func ToSigned(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("%w: dst %d bytes, src %d", ErrGeometry, len(dst), len(src))
	}
	for i, v := range src {
		dst[i] = byte(int8(int(v) - 128))
	}
	return nil
}

// CopyToTensor hands the quantized buffer to the engine's input tensor.
// The sizes must match exactly.
func CopyToTensor(tensor, quantized []byte) error {
	if len(tensor) != len(quantized) {
		return fmt.Errorf("%w: tensor %d bytes, input %d", ErrGeometry, len(tensor), len(quantized))
	}
	copy(tensor, quantized)
	return nil
}
