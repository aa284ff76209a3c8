package transport

//go:generate go tool errtrace -w .

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"braces.dev/errtrace"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tradepeer/tradepeer/internal/applog"
	"github.com/tradepeer/tradepeer/session"
)

// WS is a [session.Conn] over a raw net.Conn already upgraded to a
// WebSocket, adapted from the same gobwas/ws usage pattern the SIP stack's
// internal ws.Conn wraps.
type WS struct {
	conn    net.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
	handler func(action string, payload json.RawMessage, ack func(error *session.WireError))
}

// NewWS wraps an already-upgraded connection. logger defaults to
// [applog.Default] if nil.
func NewWS(conn net.Conn, logger *slog.Logger) *WS {
	if logger == nil {
		logger = applog.Default()
	}
	return &WS{conn: conn, logger: logger}
}

// OnAction implements session.Conn.
func (w *WS) OnAction(handler func(action string, payload json.RawMessage, ack func(error *session.WireError))) {
	w.handler = handler
}

// Emit implements session.Conn.
func (w *WS) Emit(event string, payload any) error {
	return w.writeJSON(eventEnvelope{Event: event, Payload: payload})
}

// Close implements session.Conn.
func (w *WS) Close() error {
	return w.conn.Close()
}

func (w *WS) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errtrace.Wrap(err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return errtrace.Wrap(wsutil.WriteServerMessage(w.conn, ws.OpText, b))
}

// Serve runs the inbound read loop until the connection is closed or
// errors. The caller must have wired OnAction (via [session.Coordinator.Accept])
// before calling Serve.
func (w *WS) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = w.conn.Close()
	}()

	for {
		msg, _, err := wsutil.ReadClientData(w.conn)
		if err != nil {
			return errtrace.Wrap(err)
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			w.logger.Warn("malformed envelope, dropping", "remote", w.conn.RemoteAddr(), "error", err)
			continue
		}

		id := env.ID
		w.handler(env.Action, env.Payload, func(e *session.WireError) {
			if err := w.writeJSON(ackEnvelope{ID: id, Error: e}); err != nil {
				w.logger.Warn("failed to write ack", "id", id, "error", err)
			}
		})
	}
}

// Listener accepts raw TCP connections, performs the WebSocket handshake,
// and hands each resulting [WS] to coordinator.
type Listener struct {
	ln          net.Listener
	coordinator *session.Coordinator
	logger      *slog.Logger
}

// Listen starts listening on addr.
func Listen(addr string, coordinator *session.Coordinator, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = applog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &Listener{ln: ln, coordinator: coordinator, logger: logger}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errtrace.Wrap(err)
			}
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	if _, err := ws.Upgrade(conn); err != nil {
		l.logger.Warn("websocket upgrade failed", "remote", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	wsConn := NewWS(conn, l.logger)
	entry := l.coordinator.Accept(wsConn)
	defer l.coordinator.Disconnect(entry)
	defer conn.Close()

	if err := wsConn.Serve(ctx); err != nil {
		l.logger.Debug("connection closed", "remote", conn.RemoteAddr(), "error", err)
	}
}
