package engine

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType is a tensor element type.
type DataType string

const (
	Int8    DataType = "int8"
	UInt8   DataType = "uint8"
	Float32 DataType = "float32"
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	if d == Float32 {
		return 4
	}
	return 1
}

// Tensor is an engine-owned input or output buffer. Int8 data is stored as
// two's-complement bytes and Float32 data as little-endian words.
type Tensor struct {
	Name      string
	Type      DataType
	Shape     []int
	Data      []byte
	Scale     float32
	ZeroPoint int32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(name string, typ DataType, shape []int, scale float32, zeroPoint int32) *Tensor {
	t := &Tensor{
		Name:      name,
		Type:      typ,
		Shape:     append([]int(nil), shape...),
		Scale:     scale,
		ZeroPoint: zeroPoint,
	}
	t.Data = make([]byte, t.Elements()*typ.Size())
	return t
}

// Elements returns the product of the shape.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Last returns the innermost dimension, the class count of a classifier
// output.
func (t *Tensor) Last() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[len(t.Shape)-1]
}

// Int8At returns element i in the tensor's quantized domain. Float32
// elements are quantized with Scale and ZeroPoint.
func (t *Tensor) Int8At(i int) int8 {
	switch t.Type {
	case Int8:
		return int8(t.Data[i])
	case UInt8:
		return int8(int(t.Data[i]) - 128)
	default:
		if t.Scale == 0 {
			return 0
		}
		q := math.Round(float64(t.Float32At(i))/float64(t.Scale)) + float64(t.ZeroPoint)
		return int8(math.Max(-128, math.Min(127, q)))
	}
}

// Float32At returns element i of a Float32 tensor.
func (t *Tensor) Float32At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
}

// SetFloat32 stores v at element i of a Float32 tensor.
func (t *Tensor) SetFloat32(i int, v float32) {
	binary.LittleEndian.PutUint32(t.Data[4*i:], math.Float32bits(v))
}

// Dequantize returns element i as a real value: (q - ZeroPoint) * Scale
// for quantized types, the stored value for Float32.
func (t *Tensor) Dequantize(i int) float32 {
	switch t.Type {
	case Int8:
		return (float32(int8(t.Data[i])) - float32(t.ZeroPoint)) * t.Scale
	case UInt8:
		return (float32(t.Data[i]) - float32(t.ZeroPoint)) * t.Scale
	default:
		return t.Float32At(i)
	}
}

// Dequantized returns the first Last() elements dequantized, in order.
func (t *Tensor) Dequantized() []float32 {
	n := t.Last()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = t.Dequantize(i)
	}
	return out
}

// String describes the tensor for logs.
func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%v scale=%g zp=%d", t.Name, t.Type, t.Shape, t.Scale, t.ZeroPoint)
}
