// Package detect interprets a binary classifier's output as a
// present/absent decision.
package detect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-edgecam/pkg/engine"
)

// DefaultThreshold is the int8 score a target must exceed.
const DefaultThreshold int8 = 50

// Person detection model class layout.
const (
	DefaultTargetIndex     = 1
	DefaultComplementIndex = 0
)

// ScoreResult is one cycle's classifier output.
type ScoreResult struct {
	Target     int8    `json:"target"`
	Complement int8    `json:"complement"`
	Scale      float32 `json:"scale"`
	ZeroPoint  int32   `json:"zero_point"`
}

// Present reports target > threshold. The comparison is strict.
func (r ScoreResult) Present(threshold int8) bool {
	return r.Target > threshold
}

// Probability dequantizes the target score.
func (r ScoreResult) Probability() float32 {
	return (float32(r.Target) - float32(r.ZeroPoint)) * r.Scale
}

// Config selects which output classes are read.
type Config struct {
	TargetIndex     int  `yaml:"target_index" json:"target_index"`
	ComplementIndex int  `yaml:"complement_index" json:"complement_index"`
	Threshold       int8 `yaml:"threshold" json:"threshold"`
}

// DefaultConfig returns the person detection layout.
func DefaultConfig() Config {
	return Config{
		TargetIndex:     DefaultTargetIndex,
		ComplementIndex: DefaultComplementIndex,
		Threshold:       DefaultThreshold,
	}
}

// Option configures an Adapter.
type Option func(*Config)

// WithThreshold sets the presence threshold.
func WithThreshold(t int8) Option {
	return func(c *Config) { c.Threshold = t }
}

// WithIndices sets the target and complement class indices.
func WithIndices(target, complement int) Option {
	return func(c *Config) {
		c.TargetIndex = target
		c.ComplementIndex = complement
	}
}

// Adapter runs the engine and extracts scores from output 0.
type Adapter struct {
	eng    engine.Engine
	cfg    Config
	logger *slog.Logger
}

// NewAdapter binds an adapter to an allocated engine. It fails if output 0
// does not hold both class indices.
func NewAdapter(eng engine.Engine, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	out, err := eng.Output(0)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	n := out.Elements()
	if cfg.TargetIndex < 0 || cfg.TargetIndex >= n || cfg.ComplementIndex < 0 || cfg.ComplementIndex >= n {
		return nil, fmt.Errorf("detect: class indices %d/%d outside output of %d elements",
			cfg.TargetIndex, cfg.ComplementIndex, n)
	}

	return &Adapter{eng: eng, cfg: cfg, logger: logger}, nil
}

// Threshold returns the configured presence threshold.
func (a *Adapter) Threshold() int8 {
	return a.cfg.Threshold
}

// Input returns the engine input tensor the pipeline writes into.
func (a *Adapter) Input() (*engine.Tensor, error) {
	return a.eng.Input(0)
}

// Run invokes the engine once. On failure the zero ScoreResult is
// returned with the error and must not be used.
func (a *Adapter) Run(ctx context.Context) (ScoreResult, error) {
	if err := a.eng.Invoke(ctx); err != nil {
		a.logger.Error("invoke failed", "engine", a.eng.Name(), "error", err)
		return ScoreResult{}, err
	}

	out, err := a.eng.Output(0)
	if err != nil {
		return ScoreResult{}, err
	}
	r := ScoreResult{
		Target:     out.Int8At(a.cfg.TargetIndex),
		Complement: out.Int8At(a.cfg.ComplementIndex),
		Scale:      out.Scale,
		ZeroPoint:  out.ZeroPoint,
	}

	if r.Present(a.cfg.Threshold) {
		a.logger.Info("target detected", "score", r.Target, "complement", r.Complement)
	} else {
		a.logger.Info("no target", "score", r.Target, "complement", r.Complement)
	}
	return r, nil
}

// Scores returns output 0 dequantized, in tensor order.
func (a *Adapter) Scores() ([]float32, error) {
	out, err := a.eng.Output(0)
	if err != nil {
		return nil, err
	}
	return out.Dequantized(), nil
}
