package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SchemaIdentifier is the flatbuffer file identifier of supported models,
// stored at byte offset 4.
const SchemaIdentifier = "TFL3"

// MockConfig describes the model the mock engine pretends to run.
type MockConfig struct {
	InputShape  []int
	InputType   DataType
	OutputShape []int

	// OutputScale and OutputZeroPoint are the output quantization
	// parameters.
	OutputScale     float32
	OutputZeroPoint int32

	// RequiredOps must all be registered at Load.
	RequiredOps OpSet

	// ArenaRequired is the minimum arena size accepted by Allocate.
	ArenaRequired int
}

// DefaultMockConfig mirrors the 96x96 grayscale person detection model.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		InputShape:      []int{1, 96, 96, 1},
		InputType:       Int8,
		OutputShape:     []int{1, 2},
		OutputScale:     1.0 / 256,
		OutputZeroPoint: -128,
		RequiredOps:     OpSet{OpAveragePool2D, OpConv2D, OpDepthwiseConv2D, OpReshape, OpSoftmax},
		ArenaRequired:   96*96 + 2,
	}
}

// MockModel returns a model blob carrying the supported schema identifier.
func MockModel(payload []byte) []byte {
	blob := []byte{0x1c, 0x00, 0x00, 0x00}
	blob = append(blob, SchemaIdentifier...)
	return append(blob, payload...)
}

// Mock implements Engine without running a network. By default output
// class 1 is the mean of the input tensor and class 0 its negation, which
// is deterministic and easy to assert on.
type Mock struct {
	// InvokeFunc replaces the default forward pass when set.
	InvokeFunc func(ctx context.Context, in, out *Tensor) error

	cfg    MockConfig
	logger *slog.Logger

	mu        sync.Mutex
	loaded    bool
	allocated bool
	input     *Tensor
	output    *Tensor
	calls     []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock engine.
func NewMock(cfg MockConfig, logger *slog.Logger) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{cfg: cfg, logger: logger}
}

// Name returns "mock".
func (m *Mock) Name() string {
	return string(BackendMock)
}

// Load checks the schema identifier and operator coverage.
func (m *Mock) Load(model []byte, ops OpSet) error {
	m.record("Load")
	if len(model) < 8 || !bytes.Equal(model[4:8], []byte(SchemaIdentifier)) {
		return WrapError(m.Name(), "load", ErrSchemaMismatch)
	}
	if missing := ops.Missing(m.cfg.RequiredOps); len(missing) > 0 {
		return WrapError(m.Name(), "load", fmt.Errorf("%w: %v", ErrMissingOp, missing))
	}

	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()

	m.logger.Debug("mock model loaded", "bytes", len(model), "ops", len(ops))
	return nil
}

// Allocate carves the input and output tensors out of arena.
func (m *Mock) Allocate(arena []byte) error {
	m.record("Allocate")
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return WrapError(m.Name(), "allocate", ErrNotLoaded)
	}

	in := NewTensor("input", m.cfg.InputType, m.cfg.InputShape, 1.0/128, 0)
	out := NewTensor("output", Int8, m.cfg.OutputShape, m.cfg.OutputScale, m.cfg.OutputZeroPoint)
	need := max(m.cfg.ArenaRequired, len(in.Data)+len(out.Data))
	if len(arena) < need {
		return WrapError(m.Name(), "allocate",
			fmt.Errorf("%w: have %d bytes, need %d", ErrArenaTooSmall, len(arena), need))
	}

	in.Data = arena[:len(in.Data):len(in.Data)]
	out.Data = arena[len(in.Data) : len(in.Data)+len(out.Data) : len(in.Data)+len(out.Data)]
	clear(in.Data)
	clear(out.Data)

	m.input, m.output = in, out
	m.allocated = true
	return nil
}

// ArenaUsed returns the bytes Allocate needs.
func (m *Mock) ArenaUsed() int {
	n := 1
	for _, d := range m.cfg.InputShape {
		n *= d
	}
	o := 1
	for _, d := range m.cfg.OutputShape {
		o *= d
	}
	return max(m.cfg.ArenaRequired, n*m.cfg.InputType.Size()+o)
}

// Invoke runs InvokeFunc or the default mean-based pass.
func (m *Mock) Invoke(ctx context.Context) error {
	m.record("Invoke")
	m.mu.Lock()
	in, out, ok := m.input, m.output, m.allocated
	m.mu.Unlock()
	if !ok {
		return WrapError(m.Name(), "invoke", ErrNotAllocated)
	}
	if m.InvokeFunc != nil {
		if err := m.InvokeFunc(ctx, in, out); err != nil {
			return WrapError(m.Name(), "invoke", err)
		}
		return nil
	}

	var sum int
	n := in.Elements()
	for i := 0; i < n; i++ {
		sum += int(in.Int8At(i))
	}
	mean := int8(sum / max(n, 1))
	for i := range out.Data {
		out.Data[i] = 0
	}
	if len(out.Data) >= 2 {
		out.Data[1] = byte(mean)
		out.Data[0] = byte(-1 - mean)
	}
	return nil
}

// Input implements Engine.
func (m *Mock) Input(i int) (*Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.allocated {
		return nil, ErrNotAllocated
	}
	if i != 0 {
		return nil, fmt.Errorf("%w: input %d", ErrTensorIndex, i)
	}
	return m.input, nil
}

// Output implements Engine.
func (m *Mock) Output(i int) (*Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.allocated {
		return nil, ErrNotAllocated
	}
	if i != 0 {
		return nil, fmt.Errorf("%w: output %d", ErrTensorIndex, i)
	}
	return m.output, nil
}

// Close implements Engine.
func (m *Mock) Close() error {
	m.record("Close")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocated = false
	m.input, m.output = nil, nil
	return nil
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Ensure Mock implements Engine.
var _ Engine = (*Mock)(nil)
