// Package bridge wires the connection, router, stores and outbound sync into
// the single object an editor host talks to.
//
// Lifecycle:
//
//	b := bridge.New(cfg, opts)
//	b.Activate()      // connect, reconnecting forever with backoff
//	...               // forward editor events, answer quick-fix queries
//	b.Deactivate()    // ordered, idempotent teardown
package bridge

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/umi/bridge/internal/clock"
	"github.com/umi/bridge/internal/config"
	"github.com/umi/bridge/internal/diagnostics"
	"github.com/umi/bridge/internal/docsync"
	"github.com/umi/bridge/internal/editor"
	"github.com/umi/bridge/internal/protocol"
	"github.com/umi/bridge/internal/reconnect"
	"github.com/umi/bridge/internal/router"
	"github.com/umi/bridge/internal/suggest"
)

// Config holds the static settings injected at startup.
type Config struct {
	URL              string
	WireMode         protocol.WireMode
	Debounce         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	RequestRate      float64
	RequestBurst     int
	Debug            bool
}

// FromSettings maps resolved configuration onto bridge Config.
func FromSettings(s config.Settings) Config {
	return Config{
		URL:              s.BackendURL,
		WireMode:         s.WireMode,
		Debounce:         s.Debounce,
		ReconnectInitial: s.ReconnectInitial,
		ReconnectMax:     s.ReconnectMax,
		RequestRate:      s.RequestRate,
		RequestBurst:     s.RequestBurst,
		Debug:            s.Debug(),
	}
}

// Options supplies the host-side collaborators. Nil fields get defaults:
// a logging notifier, an in-memory diagnostic collection, no telemetry,
// system timers and WebSocket transports.
type Options struct {
	Notifier     editor.Notifier
	Sink         editor.DiagnosticSink
	Recorder     suggest.Recorder
	AfterFunc    clock.AfterFunc
	NewTransport reconnect.Factory

	// OnStatus is called after every connect and disconnect.
	OnStatus func(Status)
}

// Status is a point-in-time view of the bridge.
type Status struct {
	State            string        `json:"state"`
	URL              string        `json:"url"`
	ReconnectPending bool          `json:"reconnect_pending"`
	ReconnectDelay   time.Duration `json:"reconnect_delay_ns"`
	Attempts         int           `json:"attempts"`
	SuggestionFiles  int           `json:"suggestion_files"`
	Diagnostics      int           `json:"diagnostics"`
	Frames           router.Stats  `json:"frames"`
	Deactivated      bool          `json:"deactivated"`
}

// Bridge is the editor-facing facade.
type Bridge struct {
	cfg      Config
	notifier editor.Notifier
	onStatus func(Status)

	ctrl        *reconnect.Controller
	router      *router.Router
	suggestions *suggest.Store
	surface     *suggest.Surface
	feedback    *suggest.Feedback
	diagnostics *diagnostics.Store
	syncer      *docsync.Syncer

	mu          sync.Mutex
	outage      bool
	deactivated bool
}

// New assembles a bridge. Nothing connects until Activate.
func New(cfg Config, opts Options) *Bridge {
	if opts.Notifier == nil {
		opts.Notifier = editor.LogNotifier{}
	}
	if opts.Sink == nil {
		opts.Sink = editor.NewCollection()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = clock.System
	}

	b := &Bridge{
		cfg:      cfg,
		notifier: opts.Notifier,
		onStatus: opts.OnStatus,
	}

	b.suggestions = suggest.NewStore(opts.Notifier)
	b.diagnostics = diagnostics.NewStore(opts.Sink)
	b.router = router.New(cfg.WireMode, b.suggestions, b.diagnostics)

	b.ctrl = reconnect.New(
		reconnect.Config{
			URL:          cfg.URL,
			InitialDelay: cfg.ReconnectInitial,
			MaxDelay:     cfg.ReconnectMax,
			Debug:        cfg.Debug,
		},
		reconnect.Options{
			NewTransport:   opts.NewTransport,
			AfterFunc:      opts.AfterFunc,
			OnConnected:    b.handleConnected,
			OnDisconnected: b.handleDisconnected,
			OnMessage:      b.router.OnMessage,
		},
	)

	b.feedback = suggest.NewFeedback(b.ctrl, opts.Recorder)
	b.surface = suggest.NewSurface(b.suggestions, b.feedback)
	b.syncer = docsync.New(
		docsync.Config{
			Debounce:     cfg.Debounce,
			RequestRate:  cfg.RequestRate,
			RequestBurst: cfg.RequestBurst,
			Debug:        cfg.Debug,
		},
		docsync.Options{
			Sender:    b.ctrl,
			Notifier:  opts.Notifier,
			AfterFunc: opts.AfterFunc,
		},
	)
	return b
}

// Activate opens the first connection.
func (b *Bridge) Activate() {
	b.mu.Lock()
	done := b.deactivated
	b.mu.Unlock()
	if done {
		return
	}
	log.Printf("bridge: activating against %s", b.cfg.URL)
	b.ctrl.Connect()
}

func (b *Bridge) handleConnected() {
	b.mu.Lock()
	recovered := b.outage
	b.outage = false
	b.mu.Unlock()

	if recovered {
		b.notifier.Info("Reconnected to the analysis backend")
	} else {
		b.notifier.Info("Connected to the analysis backend")
	}
	b.emitStatus()
}

// handleDisconnected warns once per outage; repeated failed attempts only
// log.
func (b *Bridge) handleDisconnected(err error) {
	b.mu.Lock()
	first := !b.outage
	b.outage = true
	b.mu.Unlock()

	if first {
		b.notifier.Warn(fmt.Sprintf("Disconnected from the analysis backend, retrying in %s", b.ctrl.ReconnectDelay()))
	} else if err != nil {
		log.Printf("bridge: still disconnected: %v", err)
	}
	b.emitStatus()
}

func (b *Bridge) emitStatus() {
	if b.onStatus != nil {
		b.onStatus(b.Status())
	}
}

// OnOpen restores cached diagnostics for a reopened document.
func (b *Bridge) OnOpen(doc editor.Document) {
	if b.diagnostics.OnOpen(doc.Path) && b.cfg.Debug {
		log.Printf("bridge: restored diagnostics for %s", doc.Path)
	}
}

// OnChange forwards an edit to the debounced sync.
func (b *Bridge) OnChange(doc editor.Document) {
	b.syncer.OnChange(doc)
}

// OnSave forwards a save immediately.
func (b *Bridge) OnSave(doc editor.Document) {
	b.syncer.OnSave(doc)
}

// SetActive records the focused document. nil means no editor has focus.
func (b *Bridge) SetActive(doc *editor.Document) {
	b.syncer.SetActive(doc)
}

// CodeActions returns quick-fixes whose range intersects rng.
func (b *Bridge) CodeActions(doc *editor.Document, rng editor.Range) []suggest.Action {
	return b.surface.Query(doc, rng)
}

// ApplyFix reports that the user applied suggestion id in path.
func (b *Bridge) ApplyFix(id, path string) {
	b.feedback.Notify(id, path, protocol.Accepted)
}

// RejectFix reports that the user dismissed suggestion id in path.
func (b *Bridge) RejectFix(id, path string) {
	b.feedback.Notify(id, path, protocol.Rejected)
}

// RequestSuggestions asks for an immediate analysis of the active document.
// Failures are already shown to the user as warnings.
func (b *Bridge) RequestSuggestions() error {
	return b.syncer.RequestSuggestions()
}

// Diagnostics returns the cached diagnostics for path.
func (b *Bridge) Diagnostics(path string) []editor.Diagnostic {
	return b.diagnostics.Get(path)
}

// Status reports connection and store state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	deactivated := b.deactivated
	b.mu.Unlock()

	return Status{
		State:            b.ctrl.State().String(),
		URL:              b.cfg.URL,
		ReconnectPending: b.ctrl.ReconnectPending(),
		ReconnectDelay:   b.ctrl.ReconnectDelay(),
		Attempts:         b.ctrl.Attempts(),
		SuggestionFiles:  len(b.suggestions.Files()),
		Diagnostics:      b.diagnostics.Count(),
		Frames:           b.router.Stats(),
		Deactivated:      deactivated,
	}
}

// Deactivate tears everything down in order: reconnect timer, debounce
// timers, connection, then the editor-facing projections. Every step runs
// even if an earlier one fails. Safe to call more than once.
func (b *Bridge) Deactivate() {
	b.mu.Lock()
	if b.deactivated {
		b.mu.Unlock()
		return
	}
	b.deactivated = true
	b.mu.Unlock()

	log.Printf("bridge: deactivating")
	safe("cancel reconnect", func() error { b.ctrl.CancelReconnect(); return nil })
	safe("cancel debounce", func() error { b.syncer.Dispose(); return nil })
	safe("close transport", b.ctrl.Dispose)
	safe("clear suggestions", func() error { b.suggestions.Clear(); return nil })
	safe("clear diagnostics", func() error { b.diagnostics.Clear(); return nil })
}

// safe runs one teardown step, logging errors and panics instead of
// propagating them.
func safe(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bridge: teardown step %q panicked: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("bridge: teardown step %q: %v", step, err)
	}
}
