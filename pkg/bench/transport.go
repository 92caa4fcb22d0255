package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned once the underlying connection is gone.
var ErrTransportClosed = errors.New("bench: transport closed")

// Transport carries the line protocol. ReadByte blocks until a byte
// arrives or ctx ends.
type Transport interface {
	ReadByte(ctx context.Context) (byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// pump moves bytes from a blocking source into a channel so reads can be
// abandoned when a context deadline passes.
type pump struct {
	bytes chan byte
	done  chan struct{}
	err   error
	once  sync.Once
}

func newPump() *pump {
	return &pump{bytes: make(chan byte, 1024), done: make(chan struct{})}
}

func (p *pump) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *pump) push(b []byte) bool {
	for _, c := range b {
		select {
		case p.bytes <- c:
		case <-p.done:
			return false
		}
	}
	return true
}

func (p *pump) read(ctx context.Context) (byte, error) {
	select {
	case c := <-p.bytes:
		return c, nil
	default:
	}
	select {
	case c := <-p.bytes:
		return c, nil
	case <-p.done:
		return 0, fmt.Errorf("%w: %v", ErrTransportClosed, p.err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Serial runs the protocol over any byte stream, such as a tty or stdio.
type Serial struct {
	rw     io.ReadWriteCloser
	pump   *pump
	wmu    sync.Mutex
	logger *slog.Logger
}

// NewSerial starts reading from rw.
func NewSerial(rw io.ReadWriteCloser, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{rw: rw, pump: newPump(), logger: logger}
	go s.readLoop()
	return s
}

func (s *Serial) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 && !s.pump.push(buf[:n]) {
			return
		}
		if err != nil {
			s.logger.Debug("serial read ended", "error", err)
			s.pump.fail(err)
			return
		}
	}
}

// ReadByte implements Transport.
func (s *Serial) ReadByte(ctx context.Context) (byte, error) {
	return s.pump.read(ctx)
}

// Write implements Transport.
func (s *Serial) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.rw.Write(p)
}

// Close implements Transport.
func (s *Serial) Close() error {
	s.pump.fail(ErrTransportClosed)
	return s.rw.Close()
}

// WebSocket runs the protocol over a websocket connection to a bench
// runner. Each text or binary message is treated as a chunk of the byte
// stream; each Write is one text message.
type WebSocket struct {
	conn   *websocket.Conn
	pump   *pump
	wmu    sync.Mutex
	logger *slog.Logger
}

// DialWebSocket connects to a runner at url.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bench: dial %s: %w", url, err)
	}
	return NewWebSocket(conn, logger), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebSocket{conn: conn, pump: newPump(), logger: logger}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.logger.Debug("websocket read ended", "error", err)
			w.pump.fail(err)
			return
		}
		if !w.pump.push(msg) {
			return
		}
	}
}

// ReadByte implements Transport.
func (w *WebSocket) ReadByte(ctx context.Context) (byte, error) {
	return w.pump.read(ctx)
}

// Write implements Transport.
func (w *WebSocket) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements Transport.
func (w *WebSocket) Close() error {
	w.pump.fail(ErrTransportClosed)
	w.wmu.Lock()
	defer w.wmu.Unlock()
	w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}

var (
	_ Transport = (*Serial)(nil)
	_ Transport = (*WebSocket)(nil)
)
