// edgecam runs person detection on a shared camera and streams the camera
// over HTTP, time-sharing the device between the two.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-edgecam/internal/config"
	"github.com/teslashibe/go-edgecam/internal/log"
	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/edgecam"
	"github.com/teslashibe/go-edgecam/pkg/engine"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	app, err := edgecam.New(cfg, log.L())
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}
	if err := app.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}

// parseFlags loads the config file, then the environment, then flags.
func parseFlags() (config.Config, error) {
	path := flag.String("config", "edgecam.yaml", "YAML config file (missing file uses defaults)")
	board := flag.String("board", "", "Board profile: esp32-cam, esp32-s3, esp32-wroom-32, arduino-giga, host")
	variant := flag.String("variant", "", "Model variant: person, ic01, vww01")
	model := flag.String("model", "", "Model file")
	eng := flag.String("engine", "", "Inference engine: mock, onnx")
	backend := flag.String("capture", "", "Capture backend: mock, dir, webcam")
	source := flag.String("source", "", "Capture source: directory for dir, index or URL for webcam")
	listen := flag.String("listen", "", "Stream server listen address")
	level := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}
	cfg.LoadEnv()

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Board, *board)
	set(&cfg.Variant, *variant)
	set(&cfg.Model, *model)
	set(&cfg.Capture.Source, *source)
	set(&cfg.Stream.Listen, *listen)
	set(&cfg.LogLevel, *level)
	if *eng != "" {
		cfg.Engine = engine.Backend(*eng)
	}
	if *backend != "" {
		cfg.Capture.Backend = capture.Backend(*backend)
	}
	return cfg, cfg.Validate()
}
