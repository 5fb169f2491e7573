// Package docsync mirrors local document state to the backend: debounced on
// edit, immediate on save, and on demand for the active document.
package docsync

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/umi/bridge/internal/clock"
	"github.com/umi/bridge/internal/editor"
	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultRequestRate  = 2.0
	DefaultRequestBurst = 3
)

// Sender is the outbound half of the connection.
type Sender interface {
	Send(v any) error
	IsOpen() bool
}

// Config tunes the syncer.
type Config struct {
	Debounce     time.Duration
	RequestRate  float64 // manual requests per second
	RequestBurst int
	Debug        bool
}

// Options supplies collaborators. Only Sender is required.
type Options struct {
	Sender    Sender
	Notifier  editor.Notifier
	AfterFunc clock.AfterFunc

	// Now feeds the request limiter. Defaults to time.Now.
	Now func() time.Time
}

// pending is one armed debounce timer. gen guards against a timer that
// fired while being replaced.
type pending struct {
	timer clock.Timer
	doc   editor.Document
	gen   uint64
}

// Syncer owns one debounce timer per document.
type Syncer struct {
	cfg       Config
	sender    Sender
	notifier  editor.Notifier
	afterFunc clock.AfterFunc
	now       func() time.Time
	limiter   *rate.Limiter

	mu       sync.Mutex
	pending  map[string]*pending
	gen      uint64
	active   *editor.Document
	disposed bool
}

// New creates a syncer.
func New(cfg Config, opts Options) *Syncer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = DefaultRequestRate
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = DefaultRequestBurst
	}
	s := &Syncer{
		cfg:       cfg,
		sender:    opts.Sender,
		notifier:  opts.Notifier,
		afterFunc: opts.AfterFunc,
		now:       opts.Now,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		pending:   make(map[string]*pending),
	}
	if s.afterFunc == nil {
		s.afterFunc = clock.System
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = editor.LogNotifier{}
	}
	return s
}

// OnChange schedules a debounced edit send for doc, restarting any timer
// already pending for the same path. Untitled documents are ignored.
func (s *Syncer) OnChange(doc editor.Document) {
	if !doc.IsSyncable() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	if p, ok := s.pending[doc.Path]; ok {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	path := doc.Path
	s.pending[path] = &pending{
		doc: doc,
		gen: gen,
		timer: s.afterFunc(s.cfg.Debounce, func() {
			s.flush(path, gen)
		}),
	}
	if s.active != nil && s.active.Path == path {
		d := doc
		s.active = &d
	}
}

func (s *Syncer) flush(path string, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[path]
	if !ok || p.gen != gen || s.disposed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, path)
	doc := p.doc
	s.mu.Unlock()

	msg := protocol.EditMessage{
		FilePath:   doc.Path,
		Content:    doc.Text,
		Version:    doc.Version,
		LanguageID: doc.LanguageID,
	}
	s.send(msg, "edit", doc.Path)
}

// OnSave sends a save checkpoint immediately. A pending edit send for the
// same document is left to fire on its own schedule.
func (s *Syncer) OnSave(doc editor.Document) {
	if !doc.IsSyncable() {
		return
	}
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return
	}
	s.send(protocol.NewSaveMessage(doc.Path, doc.Text, doc.Version), "save", doc.Path)
}

// send drops the frame when the connection is not open. Sync traffic is
// best-effort; the next edit or save carries the full text again.
func (s *Syncer) send(msg any, kind, path string) {
	if !s.sender.IsOpen() {
		if s.cfg.Debug {
			log.Printf("docsync: not connected, dropping %s for %s", kind, path)
		}
		return
	}
	if err := s.sender.Send(msg); err != nil {
		log.Printf("docsync: %s for %s: %v", kind, path, err)
	}
}

// SetActive records the document targeted by manual requests. nil clears it.
func (s *Syncer) SetActive(doc *editor.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		s.active = nil
		return
	}
	d := *doc
	s.active = &d
}

// Active returns a copy of the active document, if any.
func (s *Syncer) Active() (editor.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return editor.Document{}, false
	}
	return *s.active, true
}

// RequestSuggestions asks the backend to analyze the active document now.
// Each failure is shown to the user as a warning and returned as a coded
// error; nothing is sent in that case.
func (s *Syncer) RequestSuggestions() error {
	if !s.sender.IsOpen() {
		return s.warn(apperrors.NotOpen())
	}
	doc, ok := s.Active()
	if !ok || doc.Path == "" {
		return s.warn(apperrors.NoActiveDocument())
	}
	if !s.limiter.AllowN(s.now(), 1) {
		return s.warn(apperrors.Throttled())
	}
	if err := s.sender.Send(protocol.NewRequestMessage(doc.Path, doc.Text)); err != nil {
		return s.warn(err)
	}
	return nil
}

func (s *Syncer) warn(err error) error {
	code, msg := apperrors.ToCodeAndMessage(err)
	text := fmt.Sprintf("Umi: %s", msg)
	if next := apperrors.GetNextAction(code); next != "" {
		text += " " + next
	}
	s.notifier.Warn(text)
	return err
}

// PendingCount reports how many documents have an armed debounce timer.
func (s *Syncer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Dispose cancels every pending debounce timer. Safe to call repeatedly.
func (s *Syncer) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, path)
	}
	s.active = nil
	s.disposed = true
}
