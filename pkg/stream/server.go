// Package stream serves the capture device over HTTP. Every stream client
// runs its own activity that competes with inference for the capture lock.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-edgecam/internal/config"
	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/hub"
	"github.com/teslashibe/go-edgecam/pkg/imgproc"
	"github.com/teslashibe/go-edgecam/pkg/node"
	"github.com/teslashibe/go-edgecam/pkg/protocol"
	"github.com/teslashibe/go-edgecam/pkg/task"
)

// DebugQuality is the JPEG quality of the /debug stream.
const DebugQuality = 70

// Server is the stream HTTP server.
type Server struct {
	cfg    config.StreamConfig
	node   *node.Node
	logger *slog.Logger
	app    *fiber.App

	cameraHub    *hub.Hub
	detectionHub *hub.Hub

	// base is cancelled on Shutdown and ends every stream activity.
	base   context.Context
	cancel context.CancelFunc

	streams atomic.Int64
}

// New builds the server and registers its routes. n must be initialized.
func New(cfg config.StreamConfig, n *node.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:          cfg,
		node:         n,
		logger:       logger.With("component", "stream"),
		cameraHub:    hub.New("camera", logger),
		detectionHub: hub.New("detections", logger),
		base:         base,
		cancel:       cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:               "edgecam",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", s.handleStream)
	if cfg.Debug {
		app.Get("/debug", s.handleDebug)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(s.handleHubWS(s.cameraHub)))
	app.Get("/ws/detections", websocket.New(s.handleHubWS(s.detectionHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.cameraHub.Run(ctx)
	go s.detectionHub.Run(ctx)
	go s.forwardDetections(ctx)
	go s.feedCamera(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("stream server listening", "addr", s.cfg.Listen)
		errCh <- s.app.Listen(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return fmt.Errorf("stream: listen: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown ends active streams and stops the HTTP server.
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// newActivity creates a stream activity sharing the node's lock and device.
func (s *Server) newActivity(name string, process task.ProcessFunc, logger *slog.Logger) *task.Activity {
	return task.NewActivity(name, s.node.Lock(), s.node.Device(), process, logger,
		task.WithLockTimeout(s.cfg.LockTimeout),
		task.WithIdleDelay(s.cfg.IdleDelay),
		task.WithSkipDelay(s.cfg.SkipDelay),
	)
}

// frameLimit reads the optional ?frames=N query used by snapshot clients.
func frameLimit(c *fiber.Ctx) (int, error) {
	v := c.Query("frames")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid frames %q", v)
	}
	return n, nil
}

// serveMultipart streams parts produced by render until the client goes
// away, the server shuts down or limit parts were sent.
func (s *Server) serveMultipart(c *fiber.Ctx, name string, render func(ctx context.Context, f *capture.Frame) (string, []byte, error)) error {
	limit, err := frameLimit(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	session := uuid.NewString()
	logger := s.logger.With("session", session, "route", name)

	c.Set(fiber.HeaderContentType, ContentType)
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streams.Add(1)
		defer s.streams.Add(-1)
		logger.Info("stream client connected")

		if err := writePreamble(w); err != nil {
			logger.Info("stream client disconnected", "error", err)
			return
		}

		sent := 0
		process := func(ctx context.Context, f *capture.Frame) error {
			contentType, data, err := render(ctx, f)
			if err != nil {
				return err
			}
			if err := writePart(w, contentType, data); err != nil {
				return task.Stop(err)
			}
			sent++
			if limit > 0 && sent >= limit {
				return task.Stop(nil)
			}
			return nil
		}

		err := s.newActivity(name, process, logger).Run(s.base)
		logger.Info("stream client disconnected", "frames", sent, "error", err)
	})
	return nil
}

// handleStream serves raw frames.
func (s *Server) handleStream(c *fiber.Ctx) error {
	return s.serveMultipart(c, "stream", func(_ context.Context, f *capture.Frame) (string, []byte, error) {
		return f.Format.MIME(), f.Data, nil
	})
}

// handleDebug serves the decoded frame re-encoded with the latest score.
// The pipeline buffers are touched only inside the held cycle.
func (s *Server) handleDebug(c *fiber.Ctx) error {
	p := s.node.Pipeline()
	if p == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}
	pc := p.Config()
	return s.serveMultipart(c, "debug", func(_ context.Context, f *capture.Frame) (string, []byte, error) {
		if err := p.Process(f); err != nil {
			return "", nil, err
		}
		data, err := imgproc.EncodeDebugJPEG(p.Decoded(), pc.SrcWidth, pc.SrcHeight, s.label(), DebugQuality)
		if err != nil {
			return "", nil, err
		}
		return capture.FormatJPEG.MIME(), data, nil
	})
}

func (s *Server) label() string {
	d, ok := s.node.Latest()
	if !ok {
		return "no detection yet"
	}
	verdict := "clear"
	if d.Present {
		verdict = "DETECTED"
	}
	return fmt.Sprintf("#%d %s score=%d other=%d p=%.2f", d.Seq, verdict, d.Target, d.Complement, d.Probability)
}

// handleStatus returns node and server counters.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"node":              s.node.Status(),
		"streams":           s.streams.Load(),
		"camera_clients":    s.cameraHub.ClientCount(),
		"detection_clients": s.detectionHub.ClientCount(),
	})
}

func (s *Server) handleHubWS(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}

// forwardDetections relays node detections to websocket clients.
func (s *Server) forwardDetections(ctx context.Context) {
	ch, cancel := s.node.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			msg, err := protocol.NewDetectionMessage(protocol.DetectionData{
				Seq:         d.Seq,
				Present:     d.Present,
				Score:       d.Target,
				Complement:  d.Complement,
				Probability: d.Probability,
				CapturedAt:  d.Timestamp.UnixMilli(),
			})
			var data []byte
			if err == nil {
				data, err = msg.Bytes()
			}
			if err != nil {
				s.logger.Warn("detection encode failed", "error", err)
				continue
			}
			s.detectionHub.Broadcast(hub.NewJSONMessage(data))
		}
	}
}

// feedCamera pushes frames to /ws/camera clients. It only contends for the
// lock while somebody is watching.
func (s *Server) feedCamera(ctx context.Context) {
	a := s.newActivity("camera-feed", func(_ context.Context, f *capture.Frame) error {
		s.cameraHub.BroadcastBinary(f.Data)
		return nil
	}, s.logger)

	idle := time.NewTicker(250 * time.Millisecond)
	defer idle.Stop()

	for ctx.Err() == nil {
		if s.cameraHub.ClientCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		a.Step(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.IdleDelay):
		}
	}
}
