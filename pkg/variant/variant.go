// Package variant is the closed table of supported models and boards.
// Everything here is resolved once at startup.
package variant

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teslashibe/go-edgecam/pkg/engine"
)

// ID names a model variant.
type ID string

const (
	Person  ID = "person"
	IC01    ID = "ic01"
	KWS01   ID = "kws01"
	VWW01   ID = "vww01"
	AD01    ID = "ad01"
	STRWW01 ID = "strww01"
)

// Variant describes one quantized model.
type Variant struct {
	ID          ID
	Description string

	// Ops is the operator set registered with the engine.
	Ops engine.OpSet

	// InputShape is the model input tensor shape (NHWC for images).
	InputShape []int

	// Classes is the size of the output vector.
	Classes int

	// Recentre means harness input bytes are shifted by -128 before they
	// reach the int8 input tensor. Other variants are copied verbatim.
	Recentre bool

	// Vision means the camera pipeline can feed this model.
	Vision bool

	// DefaultArena is used on boards without a specific entry.
	DefaultArena int
}

// InputSize is the input tensor size in bytes.
func (v Variant) InputSize() int {
	n := 1
	for _, d := range v.InputShape {
		n *= d
	}
	return n
}

// Channels is the innermost input dimension of a vision model.
func (v Variant) Channels() int {
	if len(v.InputShape) == 0 {
		return 0
	}
	return v.InputShape[len(v.InputShape)-1]
}

// MockConfig returns a mock engine configuration with this variant's
// tensor shapes and op requirements.
func (v Variant) MockConfig() engine.MockConfig {
	cfg := engine.DefaultMockConfig()
	cfg.InputShape = append([]int(nil), v.InputShape...)
	cfg.OutputShape = []int{1, v.Classes}
	cfg.RequiredOps = append(engine.OpSet(nil), v.Ops...)
	cfg.ArenaRequired = v.InputSize() + v.Classes
	return cfg
}

var variants = map[ID]Variant{
	Person: {
		ID:          Person,
		Description: "96x96 grayscale person detection",
		Ops: engine.OpSet{
			engine.OpAveragePool2D, engine.OpConv2D, engine.OpDepthwiseConv2D,
			engine.OpReshape, engine.OpSoftmax,
		},
		InputShape:   []int{1, 96, 96, 1},
		Classes:      2,
		Vision:       true,
		DefaultArena: 160 * 1024,
	},
	IC01: {
		ID:          IC01,
		Description: "image classification, ResNet on CIFAR-10",
		Ops: engine.OpSet{
			engine.OpFullyConnected, engine.OpConv2D, engine.OpAdd,
			engine.OpAveragePool2D, engine.OpReshape, engine.OpSoftmax,
		},
		InputShape:   []int{1, 32, 32, 3},
		Classes:      10,
		Recentre:     true,
		Vision:       true,
		DefaultArena: 200 * 1024,
	},
	KWS01: {
		ID:          KWS01,
		Description: "keyword spotting, DS-CNN",
		Ops: engine.OpSet{
			engine.OpDepthwiseConv2D, engine.OpConv2D, engine.OpAveragePool2D,
			engine.OpReshape, engine.OpFullyConnected, engine.OpSoftmax,
		},
		InputShape:   []int{1, 49, 10, 1},
		Classes:      12,
		DefaultArena: 100 * 1024,
	},
	VWW01: {
		ID:          VWW01,
		Description: "visual wake words, MobileNet 96x96",
		Ops: engine.OpSet{
			engine.OpConv2D, engine.OpDepthwiseConv2D, engine.OpAveragePool2D,
			engine.OpReshape, engine.OpSoftmax, engine.OpFullyConnected, engine.OpMean,
		},
		InputShape:   []int{1, 96, 96, 3},
		Classes:      2,
		Recentre:     true,
		Vision:       true,
		DefaultArena: 300 * 1024,
	},
	AD01: {
		ID:           AD01,
		Description:  "anomaly detection, FC autoencoder",
		Ops:          engine.OpSet{engine.OpFullyConnected, engine.OpRelu},
		InputShape:   []int{1, 640},
		Classes:      640,
		DefaultArena: 100 * 1024,
	},
	STRWW01: {
		ID:          STRWW01,
		Description: "streaming wake word, LSTM",
		Ops: engine.OpSet{
			engine.OpUnidirectionalSequenceLSTM, engine.OpFullyConnected,
			engine.OpSoftmax, engine.OpReshape,
		},
		InputShape:   []int{1, 1, 40},
		Classes:      3,
		DefaultArena: 100 * 1024,
	},
}

// Lookup returns the variant with the given id, case-insensitively.
func Lookup(id string) (Variant, error) {
	v, ok := variants[ID(strings.ToLower(id))]
	if !ok {
		return Variant{}, fmt.Errorf("variant: unknown model %q (have %s)", id, strings.Join(IDs(), ", "))
	}
	return v, nil
}

// IDs lists known variant ids in sorted order.
func IDs() []string {
	out := make([]string, 0, len(variants))
	for id := range variants {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
