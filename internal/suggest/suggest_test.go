package suggest

import (
	"errors"
	"testing"

	"github.com/umi/bridge/internal/editor"
	"github.com/umi/bridge/internal/protocol"
)

type fakeSender struct {
	open bool
	sent []any
	err  error
}

func (f *fakeSender) Send(v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) IsOpen() bool { return f.open }

type interaction struct {
	decision protocol.Decision
	id, path string
}

type fakeRecorder struct {
	got []interaction
	err error
}

func (f *fakeRecorder) RecordInteraction(d protocol.Decision, id, path string) error {
	f.got = append(f.got, interaction{d, id, path})
	return f.err
}

type countingNotifier struct {
	infos, warns []string
}

func (n *countingNotifier) Info(m string) { n.infos = append(n.infos, m) }
func (n *countingNotifier) Warn(m string) { n.warns = append(n.warns, m) }

func intp(n int) *int { return &n }

func caret(line, char int) editor.Range {
	p := editor.Position{Line: line, Character: char}
	return editor.Range{Start: p, End: p}
}

func TestStoreUpdateReplaces(t *testing.T) {
	n := &countingNotifier{}
	s := NewStore(n)

	s.Update("a.py", []protocol.RefactorItem{{ID: "1"}, {ID: "2"}})
	s.Update("a.py", []protocol.RefactorItem{{ID: "3"}})

	items := s.Items("a.py")
	if len(items) != 1 || items[0].ID != "3" {
		t.Fatalf("update should replace, got %+v", items)
	}
	if len(n.infos) != 2 {
		t.Errorf("expected an info notice per non-empty update, got %v", n.infos)
	}

	s.Update("a.py", nil)
	if len(s.Items("a.py")) != 0 {
		t.Error("empty update should clear the file")
	}
	if len(n.infos) != 2 {
		t.Error("empty update must not notify")
	}
	if len(s.Files()) != 0 {
		t.Errorf("Files should skip empty lists, got %v", s.Files())
	}
}

func TestStoreUpdateCopiesInput(t *testing.T) {
	s := NewStore(nil)
	in := []protocol.RefactorItem{{ID: "1", Title: "orig"}}
	s.Update("a.py", in)
	in[0].Title = "mutated"

	if got := s.Items("a.py")[0].Title; got != "orig" {
		t.Errorf("store aliases caller slice: title %q", got)
	}
	if _, ok := s.Lookup("a.py", "1"); !ok {
		t.Error("Lookup should find stored id")
	}
	if _, ok := s.Lookup("a.py", "nope"); ok {
		t.Error("Lookup found a missing id")
	}
}

func TestQueryReturnsOptimizeAction(t *testing.T) {
	store := NewStore(nil)
	store.Update("a.py", []protocol.RefactorItem{{
		ID:          "x1",
		Title:       "simplify",
		Location:    protocol.Location{StartLine: 2, EndLine: 2},
		PatchedCode: "y = 1",
	}})
	surface := NewSurface(store, nil)
	doc := &editor.Document{Path: "a.py", Text: "import os\nx = 1 + 0\n"}

	actions := surface.Query(doc, caret(1, 0))
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.Label != "Optimize: simplify" {
		t.Errorf("label = %q", a.Label)
	}
	if !a.Preferred {
		t.Error("action should be preferred")
	}
	want := editor.Range{
		Start: editor.Position{Line: 1, Character: 0},
		End:   editor.Position{Line: 1, Character: 9},
	}
	if a.Edit.Range != want || a.Edit.NewText != "y = 1" {
		t.Errorf("edit = %+v, want range %+v text %q", a.Edit, want, "y = 1")
	}

	if got := surface.Query(doc, caret(0, 3)); len(got) != 0 {
		t.Errorf("query on line 0 should be empty, got %+v", got)
	}
	if got := surface.Query(&editor.Document{Path: "other.py"}, caret(1, 0)); len(got) != 0 {
		t.Errorf("other file should have no actions, got %+v", got)
	}
	if got := surface.Query(nil, caret(1, 0)); got != nil {
		t.Errorf("nil document should yield nil, got %+v", got)
	}
}

func TestQueryIntersection(t *testing.T) {
	store := NewStore(nil)
	store.Update("a.py", []protocol.RefactorItem{
		{ID: "a", Title: "a", Location: protocol.Location{StartLine: 1, EndLine: 1, StartCol: intp(2), EndCol: intp(6)}},
		{ID: "b", Title: "b", Location: protocol.Location{StartLine: 3, EndLine: 4}},
	})
	surface := NewSurface(store, nil)
	doc := &editor.Document{Path: "a.py", Text: "0123456789\n\nline three\nline four\n"}

	tests := []struct {
		name string
		rng  editor.Range
		want []string
	}{
		{"caret inside a", caret(0, 4), []string{"a"}},
		{"caret at a start", caret(0, 2), []string{"a"}},
		{"caret at a end", caret(0, 6), []string{"a"}},
		{"range touching a end", editor.Range{Start: editor.Position{Line: 0, Character: 6}, End: editor.Position{Line: 0, Character: 9}}, nil},
		{"range before a", editor.Range{Start: editor.Position{Line: 0, Character: 0}, End: editor.Position{Line: 0, Character: 2}}, nil},
		{"blank line", caret(1, 0), nil},
		{"spanning both", editor.Range{Start: editor.Position{Line: 0, Character: 0}, End: editor.Position{Line: 3, Character: 1}}, []string{"a", "b"}},
		{"inside b second line", caret(3, 4), []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := surface.Query(doc, tt.rng)
			var ids []string
			for _, a := range got {
				ids = append(ids, a.SuggestionID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestQueryReversedColumns(t *testing.T) {
	store := NewStore(nil)
	store.Update("a.py", []protocol.RefactorItem{
		{ID: "past-eol", Title: "p", Location: protocol.Location{StartLine: 2, EndLine: 2, StartCol: intp(8)}},
		{ID: "swapped", Title: "s", Location: protocol.Location{StartLine: 2, EndLine: 2, StartCol: intp(3), EndCol: intp(1)}},
	})
	surface := NewSurface(store, nil)
	doc := &editor.Document{Path: "a.py", Text: "x\nabc\ny\n"}

	got := surface.Query(doc, editor.Range{End: editor.Position{Line: 3}})
	if len(got) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(got))
	}

	want := map[string]editor.Range{
		"past-eol": {Start: editor.Position{Line: 1, Character: 3}, End: editor.Position{Line: 1, Character: 8}},
		"swapped":  {Start: editor.Position{Line: 1, Character: 1}, End: editor.Position{Line: 1, Character: 3}},
	}
	for _, a := range got {
		if a.Edit.Range != want[a.SuggestionID] {
			t.Errorf("%s: edit range = %+v, want %+v", a.SuggestionID, a.Edit.Range, want[a.SuggestionID])
		}
		if a.Edit.Range.End.Before(a.Edit.Range.Start) {
			t.Errorf("%s: edit range ends before it starts", a.SuggestionID)
		}
	}

	if got := surface.Query(doc, caret(1, 3)); len(got) != 2 {
		t.Errorf("caret on the shared edge: expected 2 actions, got %d", len(got))
	}
}

func TestRangeForClampsAndDefaults(t *testing.T) {
	r := RangeFor(protocol.Location{StartLine: 0, EndLine: -3}, nil)
	if r.Start.Line != 0 || r.End.Line != 0 {
		t.Errorf("lines should clamp to 0, got %+v", r)
	}
	if r.End.Character != editor.EndOfLine {
		t.Errorf("unknown document should reach EndOfLine, got %d", r.End.Character)
	}

	doc := &editor.Document{Text: "héllo\r\nworld"}
	r = RangeFor(protocol.Location{StartLine: 1, EndLine: 1}, doc)
	if r.End.Character != 5 {
		t.Errorf("end col should count runes without CR, got %d", r.End.Character)
	}
}

func TestFeedbackSendsWhenOpen(t *testing.T) {
	sender := &fakeSender{open: true}
	rec := &fakeRecorder{}
	store := NewStore(nil)
	store.Update("a.py", []protocol.RefactorItem{{ID: "x1", Title: "t", Location: protocol.Location{StartLine: 1, EndLine: 1}}})
	surface := NewSurface(store, NewFeedback(sender, rec))

	actions := surface.Query(&editor.Document{Path: "a.py", Text: "x"}, caret(0, 0))
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	actions[0].OnApply()
	actions[0].OnReject()

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 feedback frames, got %d", len(sender.sent))
	}
	first := sender.sent[0].(protocol.FeedbackMessage)
	if first.Action != protocol.Accepted || first.SuggestionID != "x1" || first.FilePath != "a.py" {
		t.Errorf("unexpected accept frame: %+v", first)
	}
	if second := sender.sent[1].(protocol.FeedbackMessage); second.Action != protocol.Rejected {
		t.Errorf("unexpected reject frame: %+v", second)
	}
	if len(rec.got) != 2 {
		t.Errorf("expected 2 recorded interactions, got %d", len(rec.got))
	}
}

func TestFeedbackDroppedWhenClosed(t *testing.T) {
	sender := &fakeSender{open: false}
	rec := &fakeRecorder{err: errors.New("disk full")}
	fb := NewFeedback(sender, rec)

	fb.Notify("x1", "a.py", protocol.Accepted)

	if len(sender.sent) != 0 {
		t.Errorf("closed connection must not send, got %d frames", len(sender.sent))
	}
	if len(rec.got) != 1 {
		t.Errorf("decision should still be recorded locally, got %d", len(rec.got))
	}
}

func TestActionsWithoutFeedbackAreNoops(t *testing.T) {
	store := NewStore(nil)
	store.Update("a.py", []protocol.RefactorItem{{ID: "x1", Location: protocol.Location{StartLine: 1, EndLine: 1}}})
	actions := NewSurface(store, nil).Query(&editor.Document{Path: "a.py"}, caret(0, 0))
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	actions[0].OnApply()
	actions[0].OnReject()
}
