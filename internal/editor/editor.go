// Package editor holds the types shared with the editor host: documents,
// positions, diagnostics and the sinks the bridge publishes into.
//
// Positions are 0-indexed. Characters count runes, not bytes.
package editor

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// EndOfLine is the character offset used when a range must reach the end of
// a line whose text is not known. Hosts clamp it to the real line length.
const EndOfLine = math.MaxInt32

// Position is a 0-indexed line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is a half-open span [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// LineRange returns the range covering a whole line.
func LineRange(line int) Range {
	return Range{
		Start: Position{Line: line},
		End:   Position{Line: line, Character: EndOfLine},
	}
}

// IsEmpty reports whether r has no extent (a caret).
func (r Range) IsEmpty() bool {
	return !r.Start.Before(r.End)
}

// Intersects reports whether r and o share at least one position.
// Ranges that merely touch do not intersect, unless one of them is empty:
// a caret sitting on either edge of a range is inside it.
func (r Range) Intersects(o Range) bool {
	start := r.Start
	if start.Before(o.Start) {
		start = o.Start
	}
	end := r.End
	if o.End.Before(end) {
		end = o.End
	}
	if start.Before(end) {
		return true
	}
	return start == end && (r.IsEmpty() || o.IsEmpty())
}

// Document is a snapshot of an open text document.
type Document struct {
	Path       string `json:"path"`
	Text       string `json:"text"`
	Version    int    `json:"version"`
	LanguageID string `json:"language_id"`

	// Untitled marks buffers that have never been saved to disk.
	Untitled bool `json:"untitled,omitempty"`
}

// IsSyncable reports whether the document has a real path and can be
// mirrored to the backend.
func (d *Document) IsSyncable() bool {
	return d != nil && !d.Untitled && d.Path != ""
}

// LineLength returns the rune length of a 0-indexed line.
// ok is false when the line does not exist in the document.
func (d *Document) LineLength(line int) (n int, ok bool) {
	if d == nil || line < 0 {
		return 0, false
	}
	text := d.Text
	for i := 0; i < line; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return 0, false
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSuffix(text, "\r")
	return utf8.RuneCountInString(text), true
}

// LineEnd returns the end-of-line character for line, falling back to
// EndOfLine when the document or line is unknown.
func (d *Document) LineEnd(line int) int {
	if n, ok := d.LineLength(line); ok {
		return n
	}
	return EndOfLine
}

// Severity mirrors the LSP diagnostic severity scale.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name written by MarshalText.
func (s *Severity) UnmarshalText(b []byte) error {
	for _, v := range []Severity{SeverityError, SeverityWarning, SeverityInformation, SeverityHint} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// Diagnostic is an annotation shown on a range of a file.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source"`
}

// TextEdit replaces Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"new_text"`
}

// DiagnosticSink is the editor's diagnostic collection, keyed by file path.
// Set replaces everything previously published for the path.
// Implementations may read from the publisher while handling a call but
// must not publish back into it.
type DiagnosticSink interface {
	Set(path string, diagnostics []Diagnostic)
	Clear()
}

// Notifier shows transient messages to the user. Info is a status-bar style
// notice; Warn is a visible warning.
type Notifier interface {
	Info(message string)
	Warn(message string)
}
