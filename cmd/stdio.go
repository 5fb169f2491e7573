package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/umi/bridge/internal/bridge"
	"github.com/umi/bridge/internal/editor"
	"github.com/umi/bridge/internal/suggest"
)

// Editor events read from stdin, one JSON object per line.
const (
	eventOpen        = "open"
	eventChange      = "change"
	eventSave        = "save"
	eventActive      = "active"
	eventCodeActions = "code_actions"
	eventApply       = "apply"
	eventReject      = "reject"
	eventRequest     = "request"
	eventStatus      = "status"
)

// maxEventSize bounds one stdin line; documents travel in full.
const maxEventSize = 16 * 1024 * 1024

// inboundEvent is one editor event.
type inboundEvent struct {
	Event        string           `json:"event"`
	ID           json.RawMessage  `json:"id,omitempty"`
	Document     *editor.Document `json:"document,omitempty"`
	Range        *editor.Range    `json:"range,omitempty"`
	SuggestionID string           `json:"suggestion_id,omitempty"`
	FilePath     string           `json:"file_path,omitempty"`
}

// notification is one line written to stdout. An empty diagnostics or
// actions list is omitted, which means "none".
type notification struct {
	Type        string              `json:"type"`
	ID          json.RawMessage     `json:"id,omitempty"`
	Message     string              `json:"message,omitempty"`
	FilePath    string              `json:"file_path,omitempty"`
	Diagnostics []editor.Diagnostic `json:"diagnostics,omitempty"`
	Actions     []suggest.Action    `json:"actions,omitempty"`
	Status      *bridge.Status      `json:"status,omitempty"`
}

// stdioHost adapts the bridge to a line-oriented JSON editor protocol.
// It is the bridge's Notifier and, through its Collection, its
// DiagnosticSink.
type stdioHost struct {
	mu   sync.Mutex
	enc  *json.Encoder
	sink *editor.Collection
}

func newStdioHost(out io.Writer) *stdioHost {
	h := &stdioHost{enc: json.NewEncoder(out), sink: editor.NewCollection()}
	h.sink.OnChange = func(path string, diags []editor.Diagnostic) {
		h.emit(notification{Type: "diagnostics", FilePath: path, Diagnostics: diags})
	}
	return h
}

func (h *stdioHost) emit(n notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enc.Encode(n); err != nil {
		log.Printf("stdio: write %s notification: %v", n.Type, err)
	}
}

// Info implements editor.Notifier.
func (h *stdioHost) Info(message string) {
	h.emit(notification{Type: "info", Message: message})
}

// Warn implements editor.Notifier.
func (h *stdioHost) Warn(message string) {
	h.emit(notification{Type: "warning", Message: message})
}

func (h *stdioHost) status(s bridge.Status) {
	h.emit(notification{Type: "status", Status: &s})
}

// serve dispatches events from r until EOF or ctx is cancelled.
func (h *stdioHost) serve(ctx context.Context, b *bridge.Bridge, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxEventSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			h.handle(b, line)
		}
	}
}

func (h *stdioHost) handle(b *bridge.Bridge, line []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		h.emit(notification{Type: "error", Message: fmt.Sprintf("invalid event: %v", err)})
		return
	}

	needDoc := func() bool {
		if ev.Document == nil {
			h.emit(notification{Type: "error", ID: ev.ID, Message: fmt.Sprintf("%s event needs a document", ev.Event)})
			return false
		}
		return true
	}

	switch ev.Event {
	case eventOpen:
		if needDoc() {
			b.OnOpen(*ev.Document)
		}
	case eventChange:
		if needDoc() {
			b.OnChange(*ev.Document)
		}
	case eventSave:
		if needDoc() {
			b.OnSave(*ev.Document)
		}
	case eventActive:
		b.SetActive(ev.Document)
	case eventCodeActions:
		if !needDoc() {
			return
		}
		rng := editor.Range{}
		if ev.Range != nil {
			rng = *ev.Range
		}
		actions := b.CodeActions(ev.Document, rng)
		h.emit(notification{Type: "code_actions", ID: ev.ID, FilePath: ev.Document.Path, Actions: actions})
	case eventApply:
		b.ApplyFix(ev.SuggestionID, ev.FilePath)
	case eventReject:
		b.RejectFix(ev.SuggestionID, ev.FilePath)
	case eventRequest:
		// Failures reach the editor as warning notifications.
		b.RequestSuggestions()
	case eventStatus:
		h.status(b.Status())
	default:
		h.emit(notification{Type: "error", ID: ev.ID, Message: fmt.Sprintf("unknown event %q", ev.Event)})
	}
}
