// benchdut is the device under test for MLPerf Tiny style benchmark
// runners. It speaks the '%'-terminated line protocol over stdio, a tty or
// a websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-edgecam/internal/config"
	"github.com/teslashibe/go-edgecam/internal/log"
	"github.com/teslashibe/go-edgecam/pkg/bench"
	"github.com/teslashibe/go-edgecam/pkg/edgecam"
	"github.com/teslashibe/go-edgecam/pkg/engine"
)

// stdio adapts stdin and stdout to a single stream.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

func main() {
	// Replies own stdout when it is the transport; logs go to stderr.
	log.InitTo(os.Stderr, "info")

	path := flag.String("config", "edgecam.yaml", "YAML config file (missing file uses defaults)")
	board := flag.String("board", "", "Board profile")
	variant := flag.String("variant", "", "Model variant: ic01, kws01, vww01, ad01, strww01, person")
	model := flag.String("model", "", "Model file")
	eng := flag.String("engine", "", "Inference engine: mock, onnx")
	transport := flag.String("transport", "", "Transport: serial, websocket")
	device := flag.String("device", "", "tty path for serial (empty for stdio) or runner URL for websocket")
	energy := flag.Bool("energy", false, "Energy mode timing")
	name := flag.String("name", "edgecam", "Device name reported to the runner")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fatal(err)
	}
	cfg.LoadEnv()
	for dst, v := range map[*string]string{
		&cfg.Board:           *board,
		&cfg.Variant:         *variant,
		&cfg.Model:           *model,
		&cfg.Bench.Transport: *transport,
		&cfg.Bench.Device:    *device,
	} {
		if v != "" {
			*dst = v
		}
	}
	if *eng != "" {
		cfg.Engine = engine.Backend(*eng)
	}
	cfg.Bench.Energy = cfg.Bench.Energy || *energy
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	log.InitTo(os.Stderr, cfg.LogLevel)
	logger := log.L()

	profile, err := cfg.Resolve()
	if err != nil {
		fatal(err)
	}
	logger.Info("benchmark profile",
		"board", profile.Board.Name,
		"variant", profile.Variant.ID,
		"arena", profile.ArenaSize,
		"baud", profile.Baud(cfg.Bench.Energy),
	)

	blob, err := edgecam.LoadModel(cfg)
	if err != nil {
		fatal(err)
	}
	e, err := edgecam.NewEngine(cfg, profile.Variant, logger)
	if err != nil {
		fatal(err)
	}

	hc := bench.DefaultConfig()
	hc.Name = *name
	hc.Energy = cfg.Bench.Energy
	hc.ReadTimeout = cfg.Bench.ReadTimeout
	h := bench.NewHarness(hc, profile.Variant, e, profile.Board.NewTiers(),
		profile.Board.ArenaRegion(profile.Variant), logger)
	if err := h.Init(blob); err != nil {
		fatal(err)
	}
	defer h.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t, err := openTransport(ctx, cfg.Bench)
	if err != nil {
		fatal(err)
	}
	defer t.Close()

	if err := h.Run(ctx, t); err != nil {
		logger.Error("bench transport failed", "error", err)
	}
}

func openTransport(ctx context.Context, cfg config.BenchConfig) (bench.Transport, error) {
	switch cfg.Transport {
	case "websocket":
		return bench.DialWebSocket(ctx, cfg.Device, log.L())
	default:
		if cfg.Device == "" {
			return bench.NewSerial(stdio{}, log.L()), nil
		}
		f, err := os.OpenFile(cfg.Device, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
		}
		return bench.NewSerial(f, log.L()), nil
	}
}

func fatal(err error) {
	log.Error("benchdut failed", "error", err)
	os.Exit(1)
}
