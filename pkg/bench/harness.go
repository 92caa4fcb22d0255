package bench

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-edgecam/pkg/engine"
	"github.com/teslashibe/go-edgecam/pkg/memory"
	"github.com/teslashibe/go-edgecam/pkg/variant"
)

// Profile is reported by the "profile" command.
const Profile = "MLPerf Tiny Firmware V0.1.0"

// Config configures a Harness.
type Config struct {
	// Name is reported by the "name" command.
	Name string

	// Energy mode drives timestamps out of band, so "timestamp" prints
	// nothing and the slower baud rate applies.
	Energy bool

	// ReadTimeout bounds each blocking read; the loop then rechecks ctx.
	ReadTimeout time.Duration
}

// DefaultConfig returns performance mode settings.
func DefaultConfig() Config {
	return Config{Name: "edgecam", ReadTimeout: 100 * time.Millisecond}
}

// Harness answers bench commands for one model.
type Harness struct {
	cfg     Config
	variant variant.Variant
	engine  engine.Engine
	tiers   []memory.Tier
	arena   memory.Region
	logger  *slog.Logger

	runID   string
	start   time.Time
	buffers *memory.Set

	input    []byte
	expected int
}

// NewHarness creates a harness. Nothing is allocated until Init.
func NewHarness(cfg Config, v variant.Variant, eng engine.Engine, tiers []memory.Tier, arena memory.Region, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	runID := uuid.NewString()
	return &Harness{
		cfg:     cfg,
		variant: v,
		engine:  eng,
		tiers:   tiers,
		arena:   arena,
		logger:  logger.With("run", runID, "model", v.ID),
		runID:   runID,
		start:   time.Now(),
	}
}

// Init allocates the arena and binds the model. Failure leaves nothing
// allocated.
func (h *Harness) Init(model []byte) error {
	for _, t := range h.tiers {
		if p, ok := t.(*memory.Pool); ok {
			s := p.Stats()
			h.logger.Debug("memory", "tier", s.Name, "free", s.Capacity-s.Used)
		}
	}
	h.logger.Debug("arena required", "bytes", h.arena.Size)

	set, err := memory.AllocateAll(h.tiers, []memory.Region{h.arena}, h.logger)
	if err != nil {
		return fmt.Errorf("bench: allocate arena: %w", err)
	}
	if err := h.bind(set, model); err != nil {
		set.Release()
		return err
	}
	h.buffers = set
	h.logger.Info("bench ready", "placement", set.Placement(), "arena_used", h.engine.ArenaUsed())
	return nil
}

func (h *Harness) bind(set *memory.Set, model []byte) error {
	if err := h.engine.Load(model, h.variant.Ops); err != nil {
		return fmt.Errorf("bench: load model: %w", err)
	}
	arena, err := set.Buffer(h.arena.Name)
	if err != nil {
		return err
	}
	if err := h.engine.Allocate(arena); err != nil {
		return fmt.Errorf("bench: allocate tensors: %w", err)
	}
	return nil
}

// Close releases the engine and the arena.
func (h *Harness) Close() error {
	err := h.engine.Close()
	if h.buffers != nil {
		h.buffers.Release()
	}
	return err
}

// Run serves commands from t until ctx ends or the transport fails.
func (h *Harness) Run(ctx context.Context, t Transport) error {
	h.logger.Info("bench harness started", "energy", h.cfg.Energy)
	if _, err := io.WriteString(t, Message("ready")); err != nil {
		return err
	}

	var acc Accumulator
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		readCtx, cancel := context.WithTimeout(ctx, h.cfg.ReadTimeout)
		b, err := t.ReadByte(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}

		raw, done, err := acc.Feed(b)
		if !done {
			continue
		}
		var reply string
		if err != nil {
			reply = ErrorMessage("command longer than %d bytes", MaxCommandLen)
		} else {
			reply = h.Handle(ctx, raw)
		}
		if _, err := io.WriteString(t, reply+Ready); err != nil {
			return err
		}
	}
}

// Handle executes one raw command and returns its reply lines, excluding
// the trailing ready line.
func (h *Harness) Handle(ctx context.Context, raw string) string {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return ErrorMessage("Unknown command: %s", raw)
	}
	h.logger.Debug("command", "name", cmd.Name, "args", cmd.Args)

	switch cmd.Name {
	case "name":
		return Message("name-dut-[%s]", h.cfg.Name)
	case "profile":
		return Message("profile-[%s]", Profile) + Message("model-[%s]", h.variant.ID)
	case "timestamp":
		return h.timestamp()
	case "db":
		return h.db(cmd)
	case "infer":
		return h.infer(ctx, cmd)
	case "results":
		return h.results()
	case "help":
		return h.help()
	default:
		return ErrorMessage("Unknown command: %s", raw)
	}
}

func (h *Harness) timestamp() string {
	if h.cfg.Energy {
		h.logger.Debug("timestamp pulse")
		return ""
	}
	return FormatLap(time.Since(h.start).Microseconds())
}

func (h *Harness) db(cmd Command) string {
	if len(cmd.Args) == 0 {
		return ErrorMessage("db requires an argument")
	}
	switch cmd.Args[0] {
	case "load":
		n, err := cmd.IntArg(1, -1)
		if err != nil || n <= 0 {
			return ErrorMessage("db load requires a positive size")
		}
		if n > MaxInputSize {
			return ErrorMessage("db load %d exceeds %d bytes", n, MaxInputSize)
		}
		h.input = make([]byte, 0, n)
		h.expected = n
		return Message("[Expecting %d bytes]", n)
	case "print":
		return Message("buffer-[%d/%d]", len(h.input), h.expected) + Message("[%s]", hex.EncodeToString(h.input))
	default:
		if h.expected == 0 {
			return ErrorMessage("db load must precede data")
		}
		data, err := hex.DecodeString(strings.Join(cmd.Args, ""))
		if err != nil {
			return ErrorMessage("invalid hex: %v", err)
		}
		if len(h.input)+len(data) > h.expected {
			return ErrorMessage("buffer overflow: %d bytes expected", h.expected)
		}
		h.input = append(h.input, data...)
		if len(h.input) == h.expected {
			return Message("load-done")
		}
		return ""
	}
}

// loadTensor copies the host buffer into the model input. Image models
// that take signed pixels get their unsigned host bytes recentred.
func (h *Harness) loadTensor() error {
	in, err := h.engine.Input(0)
	if err != nil {
		return err
	}
	if len(h.input) != len(in.Data) {
		return fmt.Errorf("host buffer is %d bytes, input tensor is %d", len(h.input), len(in.Data))
	}
	switch {
	case in.Type == engine.Int8 && h.variant.Recentre:
		for i, v := range h.input {
			in.Data[i] = byte(int8(int16(v) - 128))
		}
	case in.Type == engine.Int8, in.Type == engine.UInt8:
		copy(in.Data, h.input)
	default:
		return fmt.Errorf("unsupported input tensor type %s", in.Type)
	}
	return nil
}

func (h *Harness) infer(ctx context.Context, cmd Command) string {
	iterations, err := cmd.IntArg(0, 1)
	if err != nil || iterations == 0 {
		return ErrorMessage("infer requires a positive iteration count")
	}
	warmup, err := cmd.IntArg(1, 0)
	if err != nil {
		return ErrorMessage("%v", err)
	}
	if err := h.loadTensor(); err != nil {
		return ErrorMessage("%v", err)
	}

	var b strings.Builder
	if warmup > 0 {
		b.WriteString(Message("warmup-start-%d", warmup))
		for i := 0; i < warmup; i++ {
			if err := h.engine.Invoke(ctx); err != nil {
				return b.String() + ErrorMessage("invoke failed: %v", err)
			}
		}
		b.WriteString(Message("warmup-done"))
	}

	b.WriteString(Message("infer-start-%d", iterations))
	b.WriteString(h.timestamp())
	began := time.Now()
	for i := 0; i < iterations; i++ {
		if err := h.engine.Invoke(ctx); err != nil {
			return b.String() + ErrorMessage("invoke failed: %v", err)
		}
	}
	elapsed := time.Since(began)
	b.WriteString(h.timestamp())
	b.WriteString(Message("infer-done"))

	h.logger.Info("inference run", "iterations", iterations, "warmup", warmup,
		"per_inference", elapsed/time.Duration(iterations))

	b.WriteString(h.results())
	return b.String()
}

func (h *Harness) results() string {
	out, err := h.engine.Output(0)
	if err != nil {
		return ErrorMessage("%v", err)
	}
	return FormatResults(out.Dequantized())
}

func (h *Harness) help() string {
	var b strings.Builder
	for _, line := range []string{
		"name        Print the device name",
		"profile     Print the firmware profile and model",
		"timestamp   Print a timestamp",
		"db load N   Allocate N bytes for the host buffer",
		"db HEX      Append hex bytes to the host buffer",
		"db print    Print the host buffer",
		"infer N W   Run N inferences after W warmups",
		"results     Print the last result",
	} {
		b.WriteString(Message("%s", line))
	}
	return b.String()
}
