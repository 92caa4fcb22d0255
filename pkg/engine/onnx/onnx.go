// Package onnx runs quantized classifiers through ONNX Runtime.
//
// ONNX Runtime manages its own memory, so the arena passed to Allocate
// only backs the engine-facing tensors; values are copied into the
// runtime's tensors on every Invoke.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-edgecam/pkg/engine"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu          sync.Mutex
	envInitialized bool
)

// Config holds ONNX Runtime settings.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the
	// runtime's default search.
	LibraryPath string `yaml:"library_path" json:"library_path"`

	// Threads bounds intra-op parallelism. 0 leaves the runtime default.
	Threads int `yaml:"threads" json:"threads"`

	// OutputScale and OutputZeroPoint quantize float outputs into the int8
	// score domain used by the detector.
	OutputScale     float32 `yaml:"output_scale" json:"output_scale"`
	OutputZeroPoint int32   `yaml:"output_zero_point" json:"output_zero_point"`
}

// DefaultConfig quantizes float softmax outputs the way int8 TFLite
// classifiers do (scale 1/256, zero point -128).
func DefaultConfig() Config {
	return Config{
		OutputScale:     1.0 / 256,
		OutputZeroPoint: -128,
	}
}

type binding struct {
	tensor *engine.Tensor
	value  ort.Value
	sync   func(toRuntime bool)
}

// Engine implements engine.Engine on ONNX Runtime.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	model    []byte
	inInfo   []ort.InputOutputInfo
	outInfo  []ort.InputOutputInfo
	session  *ort.DynamicAdvancedSession
	inputs   []binding
	outputs  []binding
	arenaUse int
}

// New creates an engine. The runtime environment is initialized on first
// Load.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Name returns "onnx".
func (e *Engine) Name() string {
	return string(engine.BackendONNX)
}

func (e *Engine) initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envInitialized {
		return nil
	}
	if e.cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(e.cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize runtime: %w", err)
	}
	envInitialized = true
	return nil
}

// Load reads the model's input and output signatures. The operator set is
// resolved by the runtime itself and only logged.
func (e *Engine) Load(model []byte, ops engine.OpSet) error {
	if err := e.initEnvironment(); err != nil {
		return engine.WrapError(e.Name(), "load", err)
	}

	in, out, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return engine.WrapError(e.Name(), "load", fmt.Errorf("%w: %v", engine.ErrSchemaMismatch, err))
	}
	if len(in) == 0 || len(out) == 0 {
		return engine.WrapError(e.Name(), "load", fmt.Errorf("%w: model has no inputs or outputs", engine.ErrSchemaMismatch))
	}

	e.mu.Lock()
	e.model = model
	e.inInfo, e.outInfo = in, out
	e.mu.Unlock()

	e.logger.Info("onnx model loaded",
		"bytes", len(model),
		"inputs", len(in),
		"outputs", len(out),
		"ops", len(ops),
	)
	return nil
}

// Allocate creates the session and binds engine tensors onto arena.
func (e *Engine) Allocate(arena []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return engine.WrapError(e.Name(), "allocate", engine.ErrNotLoaded)
	}

	var tensors []*engine.Tensor
	need := 0
	for _, info := range e.inInfo {
		t, err := e.engineTensor(info, true)
		if err != nil {
			return engine.WrapError(e.Name(), "allocate", err)
		}
		tensors = append(tensors, t)
		need += len(t.Data)
	}
	for _, info := range e.outInfo {
		t, err := e.engineTensor(info, false)
		if err != nil {
			return engine.WrapError(e.Name(), "allocate", err)
		}
		tensors = append(tensors, t)
		need += len(t.Data)
	}
	if len(arena) < need {
		return engine.WrapError(e.Name(), "allocate",
			fmt.Errorf("%w: have %d bytes, need %d", engine.ErrArenaTooSmall, len(arena), need))
	}

	off := 0
	for _, t := range tensors {
		n := len(t.Data)
		t.Data = arena[off : off+n : off+n]
		clear(t.Data)
		off += n
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return engine.WrapError(e.Name(), "allocate", err)
	}
	defer opts.Destroy()
	if e.cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(e.cfg.Threads); err != nil {
			e.logger.Warn("onnx: set threads failed", "error", err)
		}
	}

	inNames := make([]string, len(e.inInfo))
	for i, info := range e.inInfo {
		inNames[i] = info.Name
	}
	outNames := make([]string, len(e.outInfo))
	for i, info := range e.outInfo {
		outNames[i] = info.Name
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(e.model, inNames, outNames, opts)
	if err != nil {
		return engine.WrapError(e.Name(), "allocate", err)
	}

	inputs := make([]binding, len(e.inInfo))
	outputs := make([]binding, len(e.outInfo))
	for i := range e.inInfo {
		b, err := bind(tensors[i], e.inInfo[i])
		if err != nil {
			session.Destroy()
			destroyAll(inputs[:i])
			return engine.WrapError(e.Name(), "allocate", err)
		}
		inputs[i] = b
	}
	for i := range e.outInfo {
		b, err := bind(tensors[len(e.inInfo)+i], e.outInfo[i])
		if err != nil {
			session.Destroy()
			destroyAll(inputs)
			destroyAll(outputs[:i])
			return engine.WrapError(e.Name(), "allocate", err)
		}
		outputs[i] = b
	}

	e.session = session
	e.inputs, e.outputs = inputs, outputs
	e.arenaUse = need
	return nil
}

func (e *Engine) engineTensor(info ort.InputOutputInfo, input bool) (*engine.Tensor, error) {
	shape := tensorShape(info.Dimensions)
	switch info.DataType {
	case ort.TensorElementDataTypeInt8:
		if input {
			return engine.NewTensor(info.Name, engine.Int8, shape, 1.0/128, 0), nil
		}
		return engine.NewTensor(info.Name, engine.Int8, shape, e.cfg.OutputScale, e.cfg.OutputZeroPoint), nil
	case ort.TensorElementDataTypeUint8:
		return engine.NewTensor(info.Name, engine.UInt8, shape, 1.0/256, 0), nil
	case ort.TensorElementDataTypeFloat:
		if input {
			// Float models still receive the signed quantized frame.
			return engine.NewTensor(info.Name, engine.Int8, shape, 1.0/128, 0), nil
		}
		return engine.NewTensor(info.Name, engine.Float32, shape, e.cfg.OutputScale, e.cfg.OutputZeroPoint), nil
	default:
		return nil, fmt.Errorf("onnx: tensor %q has unsupported element type %v", info.Name, info.DataType)
	}
}

// tensorShape replaces dynamic dimensions with 1.
func tensorShape(dims ort.Shape) []int {
	shape := make([]int, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		shape[i] = int(d)
	}
	return shape
}

func runtimeShape(shape []int) ort.Shape {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

func bind(t *engine.Tensor, info ort.InputOutputInfo) (binding, error) {
	shape := runtimeShape(t.Shape)
	switch info.DataType {
	case ort.TensorElementDataTypeInt8:
		v, err := ort.NewEmptyTensor[int8](shape)
		if err != nil {
			return binding{}, err
		}
		return binding{tensor: t, value: v, sync: func(toRuntime bool) {
			d := v.GetData()
			for i := range d {
				if toRuntime {
					d[i] = int8(t.Data[i])
				} else {
					t.Data[i] = byte(d[i])
				}
			}
		}}, nil

	case ort.TensorElementDataTypeUint8:
		v, err := ort.NewEmptyTensor[uint8](shape)
		if err != nil {
			return binding{}, err
		}
		return binding{tensor: t, value: v, sync: func(toRuntime bool) {
			if toRuntime {
				copy(v.GetData(), t.Data)
			} else {
				copy(t.Data, v.GetData())
			}
		}}, nil

	case ort.TensorElementDataTypeFloat:
		v, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return binding{}, err
		}
		return binding{tensor: t, value: v, sync: func(toRuntime bool) {
			d := v.GetData()
			for i := range d {
				if toRuntime {
					d[i] = t.Dequantize(i)
				} else {
					t.SetFloat32(i, d[i])
				}
			}
		}}, nil
	}
	return binding{}, fmt.Errorf("onnx: unsupported element type %v", info.DataType)
}

func destroyAll(bs []binding) {
	for _, b := range bs {
		if b.value != nil {
			b.value.Destroy()
		}
	}
}

// Invoke copies inputs into the runtime, runs the session and copies
// outputs back.
func (e *Engine) Invoke(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return engine.WrapError(e.Name(), "invoke", engine.ErrNotAllocated)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	in := make([]ort.Value, len(e.inputs))
	for i, b := range e.inputs {
		b.sync(true)
		in[i] = b.value
	}
	out := make([]ort.Value, len(e.outputs))
	for i, b := range e.outputs {
		out[i] = b.value
	}

	if err := e.session.Run(in, out); err != nil {
		return engine.WrapError(e.Name(), "invoke", err)
	}
	for _, b := range e.outputs {
		b.sync(false)
	}
	return nil
}

// Input implements engine.Engine.
func (e *Engine) Input(i int) (*engine.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, engine.ErrNotAllocated
	}
	if i < 0 || i >= len(e.inputs) {
		return nil, fmt.Errorf("%w: input %d", engine.ErrTensorIndex, i)
	}
	return e.inputs[i].tensor, nil
}

// Output implements engine.Engine.
func (e *Engine) Output(i int) (*engine.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, engine.ErrNotAllocated
	}
	if i < 0 || i >= len(e.outputs) {
		return nil, fmt.Errorf("%w: output %d", engine.ErrTensorIndex, i)
	}
	return e.outputs[i].tensor, nil
}

// ArenaUsed returns the bytes bound in the arena.
func (e *Engine) ArenaUsed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arenaUse
}

// Close destroys the session and runtime tensors. The runtime environment
// stays initialized for other engines in the process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	destroyAll(e.inputs)
	destroyAll(e.outputs)
	e.inputs, e.outputs = nil, nil
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}

// Ensure Engine implements engine.Engine.
var _ engine.Engine = (*Engine)(nil)
