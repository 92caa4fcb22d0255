// Package node wires the capture lock, device, buffers, engine, pipeline
// and detector into one explicitly owned unit and runs the inference
// activity.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/detect"
	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/imgproc"
	"github.com/teslashibe/go-edgecam/pkg/memory"
	"github.com/teslashibe/go-edgecam/pkg/task"
	"github.com/teslashibe/go-edgecam/pkg/variant"
)

// ErrNotInitialized is returned by Run before a successful Init.
var ErrNotInitialized = errors.New("node: not initialized")

// Config is the resolved startup configuration.
type Config struct {
	Variant  variant.Variant
	Pipeline imgproc.Config

	// Regions must include the pipeline buffers and the arena.
	Regions []memory.Region

	// Model is the model blob handed to the engine.
	Model []byte

	Threshold   int8
	LockTimeout time.Duration
	IdleDelay   time.Duration
	SkipDelay   time.Duration
}

// Detection is one published inference result.
type Detection struct {
	Seq         uint64    `json:"seq"`
	Target      int8      `json:"target"`
	Complement  int8      `json:"complement"`
	Present     bool      `json:"present"`
	Probability float32   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
}

// Node owns every resource of the vision path. Nothing is shared through
// globals; the stream server receives the Node.
type Node struct {
	cfg    Config
	logger *slog.Logger

	lock   capture.Locker
	device capture.Device
	engine engine.Engine
	tiers  []memory.Tier

	buffers   *memory.Set
	pipeline  *imgproc.Pipeline
	adapter   *detect.Adapter
	inference *task.Activity

	mu          sync.RWMutex
	latest      Detection
	hasLatest   bool
	subscribers map[chan Detection]struct{}
}

// Option configures a Node.
type Option func(*Node)

// WithLocker replaces the default capture lock.
func WithLocker(l capture.Locker) Option {
	return func(n *Node) { n.lock = l }
}

// New creates a node. Nothing is allocated until Init.
func New(cfg Config, dev capture.Device, eng engine.Engine, tiers []memory.Tier, logger *slog.Logger, opts ...Option) (*Node, error) {
	if dev == nil || eng == nil {
		return nil, errors.New("node: device and engine are required")
	}
	if len(tiers) == 0 {
		return nil, errors.New("node: at least one memory tier is required")
	}
	if !cfg.Variant.Vision {
		return nil, fmt.Errorf("node: variant %s cannot run on camera frames", cfg.Variant.ID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		cfg:         cfg,
		logger:      logger,
		lock:        capture.NewLock(),
		device:      dev,
		engine:      eng,
		tiers:       tiers,
		subscribers: make(map[chan Detection]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Init performs the startup sequence: allocate every buffer, load the model,
// place tensors in the arena, and bind the pipeline and detector. Any
// failure releases what was obtained and is fatal; no activity may start.
func (n *Node) Init() error {
	n.logMemory("before allocation")

	set, err := memory.AllocateAll(n.tiers, n.cfg.Regions, n.logger)
	if err != nil {
		return fmt.Errorf("node: allocate buffers: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			set.Release()
		}
	}()

	if err := n.engine.Load(n.cfg.Model, n.cfg.Variant.Ops); err != nil {
		return fmt.Errorf("node: load model: %w", err)
	}

	arena, err := set.Buffer(memory.RegionArena)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.logMemory("before arena")
	if err := n.engine.Allocate(arena); err != nil {
		return fmt.Errorf("node: allocate tensors: %w", err)
	}

	pipeline, err := imgproc.NewPipeline(n.cfg.Pipeline, set, n.logger)
	if err != nil {
		return fmt.Errorf("node: pipeline: %w", err)
	}

	in, err := n.engine.Input(0)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if len(in.Data) != n.cfg.Pipeline.InputSize() {
		return fmt.Errorf("node: model input is %d bytes, pipeline produces %d", len(in.Data), n.cfg.Pipeline.InputSize())
	}

	adapter, err := detect.NewAdapter(n.engine, n.logger, detect.WithThreshold(n.cfg.Threshold))
	if err != nil {
		return err
	}

	n.buffers = set
	n.pipeline = pipeline
	n.adapter = adapter
	n.inference = task.NewActivity("inference", n.lock, n.device, n.infer, n.logger,
		task.WithLockTimeout(n.cfg.LockTimeout),
		task.WithIdleDelay(n.cfg.IdleDelay),
		task.WithSkipDelay(n.cfg.SkipDelay),
	)

	n.logger.Info("node ready",
		"variant", n.cfg.Variant.ID,
		"engine", n.engine.Name(),
		"device", n.device.Name(),
		"arena", len(arena),
		"arena_used", n.engine.ArenaUsed(),
		"placement", set.Placement(),
	)
	ok = true
	return nil
}

func (n *Node) logMemory(stage string) {
	for _, t := range n.tiers {
		if p, ok := t.(*memory.Pool); ok {
			s := p.Stats()
			n.logger.Debug("memory", "stage", stage, "tier", s.Name, "free", s.Capacity-s.Used, "capacity", s.Capacity)
		}
	}
}

// infer is the inference ProcessFunc. It runs inside a held cycle.
func (n *Node) infer(ctx context.Context, f *capture.Frame) error {
	in, err := n.adapter.Input()
	if err != nil {
		return err
	}
	if err := n.pipeline.Run(f, in.Data); err != nil {
		return err
	}
	r, err := n.adapter.Run(ctx)
	if err != nil {
		return err
	}
	n.publish(Detection{
		Seq:         f.Seq,
		Target:      r.Target,
		Complement:  r.Complement,
		Present:     r.Present(n.adapter.Threshold()),
		Probability: r.Probability(),
		Timestamp:   time.Now(),
	})
	return nil
}

// Run runs the inference activity until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	if n.inference == nil {
		return ErrNotInitialized
	}
	return n.inference.Run(ctx)
}

// Shutdown releases the engine, buffers and device.
func (n *Node) Shutdown() {
	if err := n.engine.Close(); err != nil {
		n.logger.Warn("engine close failed", "error", err)
	}
	if n.buffers != nil {
		n.buffers.Release()
	}
	if err := n.device.Close(); err != nil {
		n.logger.Warn("device close failed", "error", err)
	}

	n.mu.Lock()
	for ch := range n.subscribers {
		close(ch)
		delete(n.subscribers, ch)
	}
	n.mu.Unlock()
}

// Lock returns the capture lock shared with the stream.
func (n *Node) Lock() capture.Locker {
	return n.lock
}

// Device returns the capture device.
func (n *Node) Device() capture.Device {
	return n.device
}

// Pipeline returns the image pipeline. Its buffers may only be read while
// holding Lock.
func (n *Node) Pipeline() *imgproc.Pipeline {
	return n.pipeline
}
