// Package websocket carries frames as binary websocket messages.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
	"github.com/zeusync/netsync/internal/transport"
)

var _ transport.Conn = (*Conn)(nil)

// Conn wraps a gorilla connection.
type Conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(transport.MaxFrameSize)
	return &Conn{ws: ws}
}

// Dial connects to a ws:// or wss:// url.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, protocol.WrapError(err, "dial websocket").WithContext("url", url)
	}
	return newConn(ws), nil
}

func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, mapError(err)
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close sends a close frame and releases the socket. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func mapError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "websocket", protocol.ErrConnectionClosed).
			WithContext("cause", err.Error())
	}
	return err
}

var _ transport.Listener = (*Listener)(nil)

// Listener is an http.Handler upgrading requests into connections handed out by Accept.
type Listener struct {
	log      log.Log
	upgrader websocket.Upgrader
	conns    chan *Conn
	done     chan struct{}
	once     sync.Once
	addr     string
	server   *http.Server
}

func NewListener(logger log.Log) *Listener {
	return &Listener{
		log: logger.With(log.String("component", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(chan *Conn),
		done:  make(chan struct{}),
	}
}

// Listen serves the handler at path on addr in the background.
func Listen(logger log.Log, addr, path string) (*Listener, error) {
	l := NewListener(logger)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, protocol.WrapError(err, "listen websocket").WithContext("addr", addr)
	}
	l.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(path, l)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("Websocket server stopped", log.Error(err))
		}
	}()

	l.log.Info("Websocket listener started", log.String("addr", l.addr), log.String("path", path))
	return l, nil
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("Websocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}

	conn := newConn(ws)
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, protocol.NewProtocolError(protocol.ErrorCodeTransportClosed, "accept", protocol.ErrConnectionClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() string {
	return l.addr
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err = l.server.Shutdown(ctx)
		}
	})
	return err
}
