// Package edgecam assembles the capture node and stream server from a
// loaded configuration and manages their lifecycle.
package edgecam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-edgecam/internal/config"
	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/node"
	"github.com/teslashibe/go-edgecam/pkg/stream"
)

// App owns the node and the stream server.
type App struct {
	cfg     config.Config
	profile config.Profile
	logger  *slog.Logger

	device capture.Device
	node   *node.Node
	server *stream.Server
}

// New validates cfg and resolves it against the board and model tables.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if profile.Pipeline == nil {
		return nil, fmt.Errorf("edgecam: variant %s does not take camera input; use benchdut", profile.Variant.ID)
	}
	return &App{cfg: cfg, profile: profile, logger: logger}, nil
}

// Profile returns the resolved startup profile.
func (a *App) Profile() config.Profile {
	return a.profile
}

// Init opens the device, builds the engine and runs the node startup
// sequence. Any failure is fatal and leaves nothing open.
func (a *App) Init() error {
	b := a.profile.Board
	if !b.Camera && a.cfg.Capture.Backend == capture.BackendWebcam {
		a.logger.Warn("board has no camera, using host webcam", "board", b.Name)
	}
	a.logger.Info("starting",
		"board", b.Name,
		"variant", a.profile.Variant.ID,
		"engine", a.cfg.Engine,
		"capture", a.cfg.Capture.Backend,
		"arena", a.profile.ArenaSize,
	)

	model, err := LoadModel(a.cfg)
	if err != nil {
		return err
	}
	dev, err := NewDevice(a.cfg.Capture, a.logger)
	if err != nil {
		return fmt.Errorf("edgecam: capture: %w", err)
	}
	eng, err := NewEngine(a.cfg, a.profile.Variant, a.logger)
	if err != nil {
		dev.Close()
		return err
	}

	n, err := node.New(node.Config{
		Variant:     a.profile.Variant,
		Pipeline:    *a.profile.Pipeline,
		Regions:     a.profile.Regions,
		Model:       model,
		Threshold:   a.cfg.Inference.Threshold,
		LockTimeout: a.cfg.Inference.LockTimeout,
		IdleDelay:   a.cfg.Inference.IdleDelay,
		SkipDelay:   a.cfg.Inference.SkipDelay,
	}, dev, eng, b.NewTiers(), a.logger)
	if err != nil {
		eng.Close()
		dev.Close()
		return err
	}
	if err := n.Init(); err != nil {
		n.Shutdown()
		return err
	}

	a.device = dev
	a.node = n
	a.server = stream.New(a.cfg.Stream, n, a.logger)
	return nil
}

// Node returns the initialized node.
func (a *App) Node() *node.Node {
	return a.node
}

// Server returns the stream server.
func (a *App) Server() *stream.Server {
	return a.server
}

// Run runs inference and the stream server until ctx ends or either fails.
func (a *App) Run(ctx context.Context) error {
	if a.node == nil {
		return node.ErrNotInitialized
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.node.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops the server and releases the node.
func (a *App) Shutdown() {
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("stream shutdown failed", "error", err)
		}
	}
	if a.node != nil {
		a.node.Shutdown()
	}
	a.logger.Info("stopped")
}
