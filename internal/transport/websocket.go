package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 512 * 1024

	// Payloads handled at once per connection.
	defaultMaxInFlight = 16

	// Outbound messages buffered per connection.
	sendBufferSize = 64
)

// WSRecorder is notified of WebSocket connection and message activity.
type WSRecorder interface {
	IncWSConnectionsActive()
	DecWSConnectionsActive()
	ObserveWSMessage(direction string)
}

// WSOptions tunes the WebSocket transport. Zero values select the defaults.
type WSOptions struct {
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	// MaxInFlight bounds the payloads dispatched concurrently for one
	// connection. Reading pauses while the bound is reached.
	MaxInFlight int
	// CheckOrigin overrides the upgrader origin check. The default accepts
	// every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o WSOptions) withDefaults() WSOptions {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = defaultMaxInFlight
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// WSHandler serves JSON-RPC over WebSocket. Every inbound message is one
// payload; its reply, if any, is sent back on the same connection with the
// same message type.
type WSHandler struct {
	dispatcher *jsonrpc.Dispatcher
	logger     *utils.Logger
	recorder   WSRecorder
	opts       WSOptions
	upgrader   websocket.Upgrader

	mutex  sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

// NewWSHandler creates a WebSocket handler. recorder may be nil.
func NewWSHandler(dispatcher *jsonrpc.Dispatcher, logger *utils.Logger, recorder WSRecorder, opts WSOptions) *WSHandler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	opts = opts.withDefaults()

	return &WSHandler{
		dispatcher: dispatcher,
		logger:     logger.Named("rpc_ws"),
		recorder:   recorder,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		h.logger.Debug("WebSocket upgrade failed", "error", err, "ip", utils.GetRequestIP(r))
		return
	}

	peer := utils.GetRequestIP(r)
	c := &wsConn{
		handler: h,
		conn:    conn,
		peer:    peer,
		send:    make(chan wsMessage, sendBufferSize),
		done:    make(chan struct{}),
	}
	c.inflight.SetLimit(h.opts.MaxInFlight)
	if !h.track(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteWait))
		conn.Close()
		return
	}
	defer h.untrack(c)

	if h.recorder != nil {
		h.recorder.IncWSConnectionsActive()
		defer h.recorder.DecWSConnectionsActive()
	}
	h.logger.Debug("WebSocket client connected", "ip", peer)

	ctx, cancel := context.WithCancel(jsonrpc.WithPeer(r.Context(), peer))
	defer cancel()

	go c.writePump()
	c.readPump(ctx)
	<-c.done

	h.logger.Debug("WebSocket client disconnected", "ip", peer)
}

// Len returns the number of open connections.
func (h *WSHandler) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.conns)
}

// Close sends a going-away close frame to every connection and closes it.
// Connections accepted afterwards are refused.
func (h *WSHandler) Close() {
	h.mutex.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mutex.Unlock()

	deadline := time.Now().Add(h.opts.WriteWait)
	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.conn.Close()
	}
}

func (h *WSHandler) track(c *wsConn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *WSHandler) untrack(c *wsConn) {
	h.mutex.Lock()
	delete(h.conns, c)
	h.mutex.Unlock()
}

func (h *WSHandler) observe(direction string) {
	if h.recorder != nil {
		h.recorder.ObserveWSMessage(direction)
	}
}

type wsMessage struct {
	kind int
	data []byte
}

// wsConn is a single WebSocket peer.
type wsConn struct {
	handler *WSHandler
	conn    *websocket.Conn
	peer    string

	// send is a channel of outbound messages, closed by readPump once every
	// in-flight payload has been answered.
	send chan wsMessage

	// done is closed when writePump exits.
	done chan struct{}

	inflight errgroup.Group
}

// readPump reads payloads and dispatches each one in its own goroutine, at
// most MaxInFlight at a time, so that slow methods do not hold up keepalive
// handling.
func (c *wsConn) readPump(ctx context.Context) {
	defer func() {
		_ = c.inflight.Wait()
		close(c.send)
	}()

	opts := c.handler.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.handler.logger.Debug("Unexpected close error", "error", err, "ip", c.peer)
			}
			return
		}
		c.handler.observe("in")

		c.inflight.Go(func() error {
			c.handle(ctx, kind, message)
			return nil
		})
	}
}

func (c *wsConn) handle(ctx context.Context, kind int, message []byte) {
	out, err := c.handler.dispatcher.Call(ctx, message)
	if err != nil {
		c.handler.logger.Error("Failed to serialize reply", err, "ip", c.peer)
		return
	}
	if out == nil {
		return
	}

	select {
	case c.send <- wsMessage{kind: kind, data: out}:
	case <-c.done:
	}
}

// writePump sends replies and pings until send is closed or a write fails.
func (c *wsConn) writePump() {
	opts := c.handler.opts
	ticker := time.NewTicker(opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.handler.logger.Debug("Failed to write message", "error", err, "ip", c.peer)
				return
			}
			c.handler.observe("out")
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.handler.logger.Debug("Failed to write ping message", "error", err, "ip", c.peer)
				return
			}
		}
	}
}
