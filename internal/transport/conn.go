// Package transport owns a single WebSocket connection to the analysis
// backend. It knows nothing about message semantics: it dials, pumps text
// frames in both directions and reports lifecycle events through Handlers.
//
// A Conn is single-use. Once it has closed it never reopens; the reconnect
// controller creates a fresh Conn instead.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/umi/bridge/internal/errors"
)

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns the uppercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Timeouts and limits for the connection. Pings keep NAT and proxies from
// dropping an idle connection; a missing pong closes it.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 20
	sendQueueSize  = 64
)

// Handlers receive lifecycle events. Any field may be nil.
//
// OnClose fires exactly once per Conn, including when the dial fails.
// OnError may fire before OnClose and is informational only.
// OnMessage is called from the read goroutine, in frame order.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(err error)
}

// Options tune a Conn.
type Options struct {
	// Dialer overrides the WebSocket dialer. Defaults to a copy of
	// websocket.DefaultDialer with a 10s handshake timeout.
	Dialer *websocket.Dialer

	// Debug logs every frame sent and received.
	Debug bool
}

// Conn is one WebSocket connection attempt and, if it succeeds, the live
// session on it.
type Conn struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	state atomic.Int32

	mu       sync.Mutex
	handlers Handlers
	ws       *websocket.Conn

	// cancelDial aborts an in-flight handshake; set by Open.
	cancelDial context.CancelFunc

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
	openOnce  sync.Once
}

// New creates a Conn for url. Nothing happens until Open is called.
func New(url string, h Handlers, opts Options) *Conn {
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = writeWait
		dialer = &d
	}
	c := &Conn{
		url:      url,
		opts:     opts,
		dialer:   dialer,
		handlers: h,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// URL returns the endpoint this Conn dials.
func (c *Conn) URL() string {
	return c.url
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Open dials in the background and returns immediately. Calling Open more
// than once has no effect. The dial is bound to ctx and to Close, whichever
// ends first.
func (c *Conn) Open(ctx context.Context) {
	c.openOnce.Do(func() {
		dialCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancelDial = cancel
		c.mu.Unlock()
		select {
		case <-c.done:
			cancel()
		default:
		}
		go c.dial(dialCtx)
	})
}

func (c *Conn) dial(ctx context.Context) {
	log.Printf("transport: dialing %s", c.url)
	dialer, detach := c.abortableDialer(ctx)
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	detach()
	if err != nil {
		select {
		case <-c.done:
			// Close aborted the handshake.
			c.finish(nil)
			return
		default:
		}
		dialErr := apperrors.DialFailed(c.url, err)
		c.emitError(dialErr)
		c.finish(dialErr)
		return
	}

	c.mu.Lock()
	select {
	case <-c.done:
		// Close raced with the dial; drop the fresh socket.
		c.mu.Unlock()
		ws.Close()
		c.finish(nil)
		return
	default:
	}
	c.ws = ws
	c.state.Store(int32(StateOpen))
	onOpen := c.handlers.OnOpen
	c.mu.Unlock()

	log.Printf("transport: connected to %s", c.url)
	go c.writePump(ws)
	if onOpen != nil {
		onOpen()
	}
	c.readPump(ws)
}

// abortableDialer returns a copy of the dialer whose raw socket is closed
// when ctx ends, covering the HTTP upgrade as well as connect and TLS.
// detach unhooks the socket once the upgrade succeeds; a live Conn is
// closed by writePump instead.
func (c *Conn) abortableDialer(ctx context.Context) (d *websocket.Dialer, detach func()) {
	dialer := *c.dialer
	netDial := dialer.NetDialContext
	if netDial == nil {
		netDial = (&net.Dialer{}).DialContext
	}

	var mu sync.Mutex
	var stops []func() bool
	dialer.NetDialContext = func(dctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := netDial(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		stops = append(stops, context.AfterFunc(ctx, func() { conn.Close() }))
		mu.Unlock()
		return conn, nil
	}
	return &dialer, func() {
		mu.Lock()
		defer mu.Unlock()
		for _, stop := range stops {
			stop()
		}
	}
}

// Send queues v as a JSON text frame. It never blocks: if the connection
// is not open or the queue is full the frame is dropped and an error
// returned.
func (c *Conn) Send(v any) error {
	if c.State() != StateOpen {
		return apperrors.NotOpen()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.SendFailed("cannot encode outbound message", err)
	}

	select {
	case <-c.done:
		return apperrors.NotOpen()
	default:
	}

	select {
	case c.send <- data:
		if c.opts.Debug {
			log.Printf("transport: queued frame (%d bytes)", len(data))
		}
		return nil
	default:
		return apperrors.SendFailed("send queue full, frame dropped", nil)
	}
}

// Detach removes all handlers so no further events are delivered.
func (c *Conn) Detach() {
	c.mu.Lock()
	c.handlers = Handlers{}
	c.mu.Unlock()
}

// Close shuts the connection down. It is safe to call multiple times and
// before the dial has finished.
func (c *Conn) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	ws := c.ws
	cancel := c.cancelDial
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws == nil {
		// The dial goroutine sees done and cleans up after itself.
		return nil
	}
	// writePump sends the close frame; the deadline unblocks readPump if
	// the peer never answers. The socket may already be gone, which is fine.
	_ = ws.SetReadDeadline(time.Now().Add(writeWait))
	return nil
}

// writePump sends queued frames and periodic pings until the connection is
// done or a write fails.
func (c *Conn) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-c.done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.emitError(apperrors.SendFailed("write failed", err))
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump delivers inbound frames until the connection fails or closes,
// then reports the close.
func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var closeErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				closeErr = apperrors.Wrap(apperrors.CodeTransportClosed, "connection lost", err)
				c.emitError(closeErr)
			}
			break
		}
		if c.opts.Debug {
			log.Printf("transport: received frame (%d bytes)", len(data))
		}

		c.mu.Lock()
		onMessage := c.handlers.OnMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(data)
		}
	}

	c.doneOnce.Do(func() {
		close(c.done)
	})
	c.finish(closeErr)
}

func (c *Conn) emitError(err error) {
	log.Printf("transport: %v", err)
	c.mu.Lock()
	onError := c.handlers.OnError
	c.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// finish marks the Conn closed and fires OnClose once.
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.mu.Lock()
		onClose := c.handlers.OnClose
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		log.Printf("transport: closed %s", c.url)
		if onClose != nil {
			onClose(err)
		}
	})
}
