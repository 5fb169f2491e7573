// Package reconnect keeps exactly one transport connection alive, replacing
// it with exponential backoff whenever it closes.
//
// The Controller is the only owner of the live connection. Other packages
// see it through Send and IsOpen and never touch the handle itself.
package reconnect

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/umi/bridge/internal/clock"
	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/transport"
)

// Default backoff bounds.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
)

// Transport is the connection surface the controller drives.
// *transport.Conn satisfies it.
type Transport interface {
	Open(ctx context.Context)
	Send(v any) error
	Detach()
	Close() error
	State() transport.State
}

// Factory creates an unopened Transport for url that reports to h.
type Factory func(url string, h transport.Handlers) Transport

// Config configures a Controller.
type Config struct {
	URL          string
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Debug enables per-frame transport logging.
	Debug bool
}

// Options carries the controller's collaborators. Any callback may be nil.
type Options struct {
	// NewTransport defaults to a WebSocket transport.Conn.
	NewTransport Factory

	// AfterFunc defaults to clock.System.
	AfterFunc clock.AfterFunc

	OnConnected    func()
	OnDisconnected func(err error)
	OnMessage      func(data []byte)
}

// Controller owns the live Transport and the reconnect timer.
type Controller struct {
	cfg  Config
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	current      Transport
	backoff      *backoff.ExponentialBackOff
	delay        time.Duration
	timer        clock.Timer
	timerPending bool
	attempts     int
	disposed     bool
}

// New creates a controller. Call Connect to start.
func New(cfg Config, opts Options) *Controller {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = DefaultMaxDelay
		if cfg.MaxDelay < cfg.InitialDelay {
			cfg.MaxDelay = cfg.InitialDelay
		}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = clock.System
	}
	if opts.NewTransport == nil {
		debug := cfg.Debug
		opts.NewTransport = func(url string, h transport.Handlers) Transport {
			return transport.New(url, h, transport.Options{Debug: debug})
		}
	}

	// Plain doubling from InitialDelay up to MaxDelay, forever.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		backoff: b,
	}
	c.resetDelayLocked()
	return c
}

// resetDelayLocked rewinds the backoff so the next reconnect waits
// InitialDelay.
func (c *Controller) resetDelayLocked() {
	c.backoff.Reset()
	c.delay = c.backoff.NextBackOff()
	c.attempts = 0
}

// Connect replaces any existing Transport with a fresh one and opens it.
// The previous Transport is detached before it is closed so its close
// event cannot trigger another reconnect.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked()
	prev := c.current

	var t Transport
	h := transport.Handlers{
		OnOpen:    func() { c.handleOpen(t) },
		OnMessage: func(data []byte) { c.handleMessage(t, data) },
		OnError:   func(err error) { c.handleError(err) },
		OnClose:   func(err error) { c.handleClose(t, err) },
	}
	t = c.opts.NewTransport(c.cfg.URL, h)
	c.current = t
	c.mu.Unlock()

	if prev != nil {
		prev.Detach()
		if err := prev.Close(); err != nil {
			log.Printf("reconnect: closing previous transport: %v", err)
		}
	}

	log.Printf("reconnect: connecting to %s", c.cfg.URL)
	t.Open(c.ctx)
}

func (c *Controller) handleOpen(t Transport) {
	c.mu.Lock()
	if c.disposed || t != c.current {
		c.mu.Unlock()
		return
	}
	c.resetDelayLocked()
	c.mu.Unlock()

	log.Printf("reconnect: connected to %s", c.cfg.URL)
	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}
}

func (c *Controller) handleMessage(t Transport, data []byte) {
	c.mu.Lock()
	stale := c.disposed || t != c.current
	c.mu.Unlock()
	if stale {
		return
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(data)
	}
}

// handleError only logs. A close always follows and drives recovery.
func (c *Controller) handleError(err error) {
	log.Printf("reconnect: transport error: %v", err)
}

func (c *Controller) handleClose(t Transport, err error) {
	c.mu.Lock()
	if c.disposed || t != c.current {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.opts.OnDisconnected != nil {
		c.opts.OnDisconnected(err)
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.timerPending {
		return
	}
	c.timerPending = true
	c.attempts++
	log.Printf("reconnect: retrying in %s (attempt %d)", c.delay, c.attempts)
	c.timer = c.opts.AfterFunc(c.delay, c.fire)
}

func (c *Controller) fire() {
	c.mu.Lock()
	if c.disposed || !c.timerPending {
		c.mu.Unlock()
		return
	}
	c.timerPending = false
	c.timer = nil
	c.delay = c.backoff.NextBackOff()
	c.mu.Unlock()

	c.Connect()
}

// CancelReconnect stops a pending reconnect timer without touching the
// live Transport.
func (c *Controller) CancelReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimerLocked()
}

func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerPending = false
}

// Dispose cancels any pending reconnect and closes the live Transport.
// No reconnect is attempted afterwards. Safe to call more than once.
func (c *Controller) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.cancelTimerLocked()
	cur := c.current
	c.current = nil
	c.mu.Unlock()

	c.cancel()
	if cur == nil {
		return nil
	}
	cur.Detach()
	if err := cur.Close(); err != nil {
		return apperrors.TeardownFailed("close transport", err)
	}
	return nil
}

// Send writes v on the live Transport. Returns a transport.not_open coded
// error when there is no open connection.
func (c *Controller) Send(v any) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil || cur.State() != transport.StateOpen {
		return apperrors.NotOpen()
	}
	return cur.Send(v)
}

// IsOpen reports whether the live Transport is open.
func (c *Controller) IsOpen() bool {
	return c.State() == transport.StateOpen
}

// State returns the live Transport's state, or CLOSED when there is none.
func (c *Controller) State() transport.State {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return transport.StateClosed
	}
	return cur.State()
}

// ReconnectDelay returns the delay the next reconnect timer will use.
func (c *Controller) ReconnectDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Controller) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timerPending
}

// Attempts returns the number of reconnects scheduled since the last
// successful open.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
