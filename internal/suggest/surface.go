package suggest

import (
	"log"

	"github.com/umi/bridge/internal/editor"
	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

// LabelPrefix starts every quick-fix label.
const LabelPrefix = "Optimize: "

// Action is one quick-fix offered for a range.
type Action struct {
	Label        string          `json:"label"`
	SuggestionID string          `json:"suggestion_id"`
	FilePath     string          `json:"file_path"`
	Description  string          `json:"description,omitempty"`
	Edit         editor.TextEdit `json:"edit"`
	Preferred    bool            `json:"preferred"`

	// OnApply and OnReject report the user's decision upstream.
	OnApply  func() `json:"-"`
	OnReject func() `json:"-"`
}

// Sender is the outbound half of the connection.
type Sender interface {
	Send(v any) error
	IsOpen() bool
}

// Recorder persists feedback decisions locally.
type Recorder interface {
	RecordInteraction(decision protocol.Decision, suggestionID, filePath string) error
}

// Feedback reports accept/reject decisions. Sends are fire-and-forget:
// with no open connection the decision is dropped, never queued.
type Feedback struct {
	sender   Sender
	recorder Recorder
}

// NewFeedback creates a reporter. recorder may be nil.
func NewFeedback(sender Sender, recorder Recorder) *Feedback {
	return &Feedback{sender: sender, recorder: recorder}
}

// Notify reports one decision.
func (f *Feedback) Notify(id, path string, decision protocol.Decision) {
	if f.recorder != nil {
		if err := f.recorder.RecordInteraction(decision, id, path); err != nil {
			log.Printf("suggest: recording %s for %s: %v", decision, id, err)
		}
	}

	if !f.sender.IsOpen() {
		log.Printf("suggest: not connected, dropping %s feedback for %s", decision, id)
		return
	}
	msg := protocol.FeedbackMessage{Action: decision, SuggestionID: id, FilePath: path}
	if err := f.sender.Send(msg); err != nil && !apperrors.IsCode(err, apperrors.CodeTransportNotOpen) {
		log.Printf("suggest: sending %s feedback for %s: %v", decision, id, err)
	}
}

// Surface answers quick-fix queries from the store.
type Surface struct {
	store    *Store
	feedback *Feedback
}

// NewSurface creates a surface over store. feedback may be nil, in which
// case actions carry no-op hooks.
func NewSurface(store *Store, feedback *Feedback) *Surface {
	return &Surface{store: store, feedback: feedback}
}

// Query returns one action per stored item for doc.Path whose range
// intersects rng, in stored order. doc supplies line lengths for items
// without an end column; a document with no text falls back to
// editor.EndOfLine.
func (s *Surface) Query(doc *editor.Document, rng editor.Range) []Action {
	if doc == nil {
		return nil
	}
	items := s.store.Items(doc.Path)

	var actions []Action
	for _, it := range items {
		itemRange := RangeFor(it.Location, doc)
		if !itemRange.Intersects(rng) {
			continue
		}
		actions = append(actions, s.action(doc.Path, it, itemRange))
	}
	return actions
}

func (s *Surface) action(path string, it protocol.RefactorItem, r editor.Range) Action {
	id := it.ID
	a := Action{
		Label:        LabelPrefix + it.Title,
		SuggestionID: id,
		FilePath:     path,
		Description:  it.Description,
		Edit:         editor.TextEdit{Range: r, NewText: it.PatchedCode},
		Preferred:    true,
		OnApply:      func() {},
		OnReject:     func() {},
	}
	if s.feedback != nil {
		fb := s.feedback
		a.OnApply = func() { fb.Notify(id, path, protocol.Accepted) }
		a.OnReject = func() { fb.Notify(id, path, protocol.Rejected) }
	}
	return a
}

// RangeFor converts a wire Location (1-indexed lines) into an editor range.
// Lines below 1 clamp to the first line. A missing start column means
// column 0; a missing end column means the end of the end line. The result
// is always ordered, Start not after End.
func RangeFor(loc protocol.Location, doc *editor.Document) editor.Range {
	startLine := clamp(loc.StartLine - 1)
	endLine := clamp(loc.EndLine - 1)
	if endLine < startLine {
		endLine = startLine
	}

	startCol := 0
	if loc.StartCol != nil {
		startCol = clamp(*loc.StartCol)
	}
	var endCol int
	if loc.EndCol != nil {
		endCol = clamp(*loc.EndCol)
	} else {
		endCol = doc.LineEnd(endLine)
	}

	r := editor.Range{
		Start: editor.Position{Line: startLine, Character: startCol},
		End:   editor.Position{Line: endLine, Character: endCol},
	}
	// A start column past the line end, or columns sent in reverse, would
	// otherwise leave End before Start.
	if r.End.Before(r.Start) {
		r.Start, r.End = r.End, r.Start
	}
	return r
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
