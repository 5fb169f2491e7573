package protocol

import (
	"encoding/json"
	"testing"

	apperrors "github.com/umi/bridge/internal/errors"
)

func TestDecodeSuggestionFrame(t *testing.T) {
	raw := []byte(`{"file_path":"a.py","items":[{"id":"x1","title":"simplify","location":{"start_line":2,"end_line":2},"patched_code":"y = 1"}]}`)

	in, err := Decode(raw, WireModeShape)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindSuggestions {
		t.Fatalf("kind = %v, want suggestions", in.Kind)
	}
	if in.Suggestions.FilePath != "a.py" {
		t.Errorf("file_path = %q, want a.py", in.Suggestions.FilePath)
	}
	if len(in.Suggestions.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(in.Suggestions.Items))
	}
	item := in.Suggestions.Items[0]
	if item.ID != "x1" || item.Title != "simplify" || item.PatchedCode != "y = 1" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.Location.StartCol != nil || item.Location.EndCol != nil {
		t.Error("absent columns should decode as nil")
	}
}

func TestDecodeDiagnosticFrame(t *testing.T) {
	raw := []byte(`{"file_path":"b.py","vulnerabilities":[{"type":"SQLI","description":"unescaped input","line":10}]}`)

	in, err := Decode(raw, WireModeShape)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindDiagnostics {
		t.Fatalf("kind = %v, want diagnostics", in.Kind)
	}
	if got := in.Diagnostics.Vulnerabilities[0]; got.Type != "SQLI" || got.Line != 10 {
		t.Errorf("unexpected vulnerability: %+v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		mode WireMode
		code string
	}{
		{"not json", `{nope`, WireModeShape, apperrors.CodeMessageParseFailed},
		{"json array", `[1,2]`, WireModeShape, apperrors.CodeMessageParseFailed},
		{"no known fields", `{"file_path":"a.py","hello":1}`, WireModeShape, apperrors.CodeMessageUnrecognized},
		{"items not an array", `{"file_path":"a.py","items":{"id":"x"}}`, WireModeShape, apperrors.CodeMessageUnrecognized},
		{"mistyped item", `{"file_path":"a.py","items":[{"id":7}]}`, WireModeShape, apperrors.CodeMessageParseFailed},
		{"missing path", `{"items":[]}`, WireModeShape, apperrors.CodeMessageMissingPath},
		{"unknown tag", `{"type":"telemetry","file_path":"a.py","items":[]}`, WireModeTagged, apperrors.CodeMessageUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw), tt.mode)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := apperrors.GetCode(err); got != tt.code {
				t.Errorf("code = %q, want %q (err: %v)", got, tt.code, err)
			}
		})
	}
}

func TestDecodeAmbiguousFramePrefersItems(t *testing.T) {
	raw := []byte(`{"file_path":"a.py","items":[],"vulnerabilities":[]}`)

	in, err := Decode(raw, WireModeShape)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindSuggestions {
		t.Fatalf("kind = %v, want suggestions", in.Kind)
	}
	if !in.Ambiguous {
		t.Error("frame carrying both fields should be flagged ambiguous")
	}
}

func TestDecodeTaggedMode(t *testing.T) {
	// The tag wins over shape when the bridge runs in tagged mode.
	raw := []byte(`{"type":"diagnostics","file_path":"a.py","items":[],"vulnerabilities":[]}`)

	in, err := Decode(raw, WireModeTagged)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindDiagnostics || in.Ambiguous {
		t.Fatalf("got kind=%v ambiguous=%v, want diagnostics and not ambiguous", in.Kind, in.Ambiguous)
	}

	// Untagged frames still classify by shape.
	in, err = Decode([]byte(`{"file_path":"a.py","items":[]}`), WireModeTagged)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindSuggestions {
		t.Errorf("kind = %v, want suggestions", in.Kind)
	}

	// Shape mode ignores the tag entirely.
	in, err = Decode(raw, WireModeShape)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if in.Kind != KindSuggestions {
		t.Errorf("shape mode kind = %v, want suggestions", in.Kind)
	}
}

func TestOutboundWireFields(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want map[string]any
	}{
		{
			name: "edit",
			msg:  EditMessage{FilePath: "a.py", Content: "x", Version: 3, LanguageID: "python"},
			want: map[string]any{"file_path": "a.py", "content": "x", "version": float64(3), "languageId": "python"},
		},
		{
			name: "save",
			msg:  NewSaveMessage("a.py", "x", 4),
			want: map[string]any{"file_path": "a.py", "content": "x", "version": float64(4), "event": "save"},
		},
		{
			name: "request",
			msg:  NewRequestMessage("a.py", "x"),
			want: map[string]any{"action": "REQUEST_SUGGESTIONS", "file_path": "a.py", "content": "x"},
		},
		{
			name: "feedback",
			msg:  FeedbackMessage{Action: Rejected, SuggestionID: "x1", FilePath: "a.py"},
			want: map[string]any{"action": "REJECTED", "suggestion_id": "x1", "file_path": "a.py"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Errorf("got fields %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestWireModeValid(t *testing.T) {
	if !WireModeShape.Valid() || !WireModeTagged.Valid() {
		t.Error("known modes should be valid")
	}
	if WireMode("xml").Valid() {
		t.Error("unknown mode should be invalid")
	}
}
