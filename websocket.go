package mcpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// WebSocket is a Transport that listens on a TCP address and serves one
// websocket client at a time. Connections are accepted sequentially; the
// current connection is the only send target, and while no client is
// connected outgoing messages are dropped silently.
type WebSocket struct {
	addr   string
	logger *slog.Logger

	connMu sync.Mutex
	conn   net.Conn
	bound  net.Addr
}

// WebSocketOption is a function that configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketLogger sets the logger for the transport.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = logger.With(
			slog.String("package", "mcpd"),
			slog.String("transport", "websocket"),
		)
	}
}

// NewWebSocket creates a websocket transport listening on addr.
func NewWebSocket(addr string, options ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		addr:   addr,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Start binds the listen address and serves connections until ctx is done,
// which returns nil. Failing to bind, or a failed accept on a live
// listener, is fatal. A failed websocket handshake is not: the offending
// connection is dropped and the listener keeps accepting.
func (w *WebSocket) Start(ctx context.Context, messages chan<- string) error {
	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.addr, err)
	}

	w.connMu.Lock()
	w.bound = listener.Addr()
	w.connMu.Unlock()

	w.logger.Info("listening", slog.String("address", listener.Addr().String()))

	// Closing the listener and the live connection is what unblocks Accept
	// and the frame reads when ctx is done.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		listener.Close()
		w.connMu.Lock()
		if w.conn != nil {
			w.conn.Close()
		}
		w.connMu.Unlock()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		w.serveConn(ctx, conn, messages)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (w *WebSocket) serveConn(ctx context.Context, conn net.Conn, messages chan<- string) {
	if _, err := ws.Upgrade(conn); err != nil {
		w.logger.Error("failed to upgrade connection", slog.String("err", err.Error()))
		conn.Close()
		return
	}

	logger := w.logger.With(slog.String("connID", uuid.New().String()))
	logger.Info("client connected", slog.String("remoteAddr", conn.RemoteAddr().String()))

	w.setConn(conn)
	defer func() {
		w.clearConn()
		conn.Close()
		logger.Info("client disconnected")
	}()

	// Ping and close frames are answered inline, which writes to the
	// connection from this goroutine. The reply takes connMu so its bytes
	// cannot interleave with a frame Send is writing. The payload is read
	// before the lock; control frames are at most 125 bytes.
	control := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	lockedControl := func(header ws.Header, payload io.Reader) error {
		buf := make([]byte, header.Length)
		if _, err := io.ReadFull(payload, buf); err != nil {
			return err
		}
		w.connMu.Lock()
		defer w.connMu.Unlock()
		return control(header, bytes.NewReader(buf))
	}
	reader := &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: lockedControl,
	}

	for {
		header, err := reader.NextFrame()
		if err != nil {
			w.logReadError(ctx, logger, err)
			return
		}

		if header.OpCode.IsControl() {
			if err := lockedControl(header, reader); err != nil {
				w.logReadError(ctx, logger, err)
				return
			}
			continue
		}

		// Only text frames carry messages.
		if header.OpCode != ws.OpText {
			if err := reader.Discard(); err != nil {
				w.logReadError(ctx, logger, err)
				return
			}
			continue
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			w.logReadError(ctx, logger, err)
			return
		}

		text := string(data)
		logger.Debug("received message", slog.String("message", text))

		select {
		case <-ctx.Done():
			return
		case messages <- text:
		}
	}
}

// logReadError records why the read loop ended. A close handshake and a
// torn-down connection are expected ends, everything else is an error.
func (w *WebSocket) logReadError(ctx context.Context, logger *slog.Logger, err error) {
	var closedErr wsutil.ClosedError
	switch {
	case errors.As(err, &closedErr):
		logger.Debug("client closed connection", slog.Int("code", int(closedErr.Code)))
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Debug("connection closed")
	case ctx.Err() != nil:
	default:
		logger.Error("failed to read frame", slog.String("err", err.Error()))
	}
}

// Addr reports the address the listener is bound to, or nil before Start
// has bound it. Configuring ":0" and reading the address back is how tests
// get an ephemeral port.
func (w *WebSocket) Addr() net.Addr {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	return w.bound
}

// Send writes one text frame to the current connection. With no client
// connected there is nowhere to deliver, so the message is dropped with a
// debug log rather than treated as an error.
func (w *WebSocket) Send(_ context.Context, text string) error {
	if text == "" {
		return nil
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()

	if w.conn == nil {
		w.logger.Debug("dropping message, no client connected", slog.String("message", text))
		return nil
	}

	if err := wsutil.WriteServerText(w.conn, []byte(text)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (w *WebSocket) setConn(conn net.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

func (w *WebSocket) clearConn() {
	w.connMu.Lock()
	w.conn = nil
	w.connMu.Unlock()
}
