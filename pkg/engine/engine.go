// Package engine defines the inference engine collaborator: a model is
// loaded against a registered operator set, its tensors are placed in a
// caller-supplied arena, and Invoke runs one forward pass.
//
// Example usage:
//
//	eng := engine.NewMock(engine.DefaultMockConfig(), logger)
//	if err := eng.Load(model, variant.Ops); err != nil {
//	    return err
//	}
//	if err := eng.Allocate(arena); err != nil {
//	    return err
//	}
//	in, _ := eng.Input(0)
//	copy(in.Data, quantized)
//	err := eng.Invoke(ctx)
package engine

import (
	"context"
	"slices"
)

// Op is an operator kernel name.
type Op string

const (
	OpAdd                        Op = "ADD"
	OpAveragePool2D              Op = "AVERAGE_POOL_2D"
	OpConv2D                     Op = "CONV_2D"
	OpDepthwiseConv2D            Op = "DEPTHWISE_CONV_2D"
	OpFullyConnected             Op = "FULLY_CONNECTED"
	OpMean                       Op = "MEAN"
	OpRelu                       Op = "RELU"
	OpReshape                    Op = "RESHAPE"
	OpSoftmax                    Op = "SOFTMAX"
	OpUnidirectionalSequenceLSTM Op = "UNIDIRECTIONAL_SEQUENCE_LSTM"
)

// OpSet is the list of operators registered with an engine.
type OpSet []Op

// Contains reports whether op is registered.
func (s OpSet) Contains(op Op) bool {
	return slices.Contains(s, op)
}

// Missing returns the entries of need absent from s.
func (s OpSet) Missing(need OpSet) OpSet {
	var out OpSet
	for _, op := range need {
		if !s.Contains(op) {
			out = append(out, op)
		}
	}
	return out
}

// Engine runs a quantized model. Implementations are not safe for
// concurrent Invoke calls.
type Engine interface {
	// Load parses and validates model and registers ops.
	Load(model []byte, ops OpSet) error

	// Allocate places the model's tensors in arena. The arena must stay
	// valid until Close.
	Allocate(arena []byte) error

	// Invoke runs one forward pass over the current input tensors.
	Invoke(ctx context.Context) error

	// Input returns input tensor i.
	Input(i int) (*Tensor, error)

	// Output returns output tensor i.
	Output(i int) (*Tensor, error)

	// ArenaUsed returns the bytes of arena the model actually needs.
	ArenaUsed() int

	// Name identifies the backend.
	Name() string

	// Close releases the engine.
	Close() error
}

// Backend selects an Engine implementation.
type Backend string

const (
	// BackendMock is the in-process deterministic engine.
	BackendMock Backend = "mock"
	// BackendONNX runs models through ONNX Runtime (engine/onnx).
	BackendONNX Backend = "onnx"
)
