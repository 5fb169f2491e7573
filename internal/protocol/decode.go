package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/umi/bridge/internal/errors"
)

// WireMode selects how inbound frames are classified.
type WireMode string

const (
	// WireModeShape classifies by field shape: an array-valued "items"
	// field is a suggestion frame, a "vulnerabilities" field is a
	// diagnostics frame.
	WireModeShape WireMode = "shape"

	// WireModeTagged dispatches on the "type" field and falls back to
	// shape classification for untagged frames.
	WireModeTagged WireMode = "tagged"
)

// Valid reports whether m is a known wire mode.
func (m WireMode) Valid() bool {
	return m == WireModeShape || m == WireModeTagged
}

// Kind identifies a decoded inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindSuggestions
	KindDiagnostics
)

// String returns the tag name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSuggestions:
		return TypeSuggestions
	case KindDiagnostics:
		return TypeDiagnostics
	default:
		return "unknown"
	}
}

// Inbound is a classified inbound frame. Exactly one of Suggestions or
// Diagnostics is set, matching Kind.
type Inbound struct {
	Kind        Kind
	Suggestions *RefactorSuggestion
	Diagnostics *ContextAnalyzerPayload

	// Ambiguous is set when an untagged frame carried both an items array
	// and a vulnerabilities field. Such frames classify as suggestions.
	Ambiguous bool
}

// Decode parses and classifies one inbound frame.
//
// Errors are CodedErrors: message.parse_failed for invalid JSON or
// mistyped fields, message.unrecognized for frames that match no known
// kind, message.missing_path for frames without a file_path.
func Decode(raw []byte, mode WireMode) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Inbound{}, apperrors.ParseFailed(err)
	}

	kind, ambiguous, err := classify(fields, mode)
	if err != nil {
		return Inbound{}, err
	}

	in := Inbound{Kind: kind, Ambiguous: ambiguous}
	switch kind {
	case KindSuggestions:
		var msg RefactorSuggestion
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Inbound{}, apperrors.ParseFailed(err)
		}
		if msg.FilePath == "" {
			return Inbound{}, apperrors.MissingPath(TypeSuggestions)
		}
		in.Suggestions = &msg
	case KindDiagnostics:
		var msg ContextAnalyzerPayload
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Inbound{}, apperrors.ParseFailed(err)
		}
		if msg.FilePath == "" {
			return Inbound{}, apperrors.MissingPath(TypeDiagnostics)
		}
		in.Diagnostics = &msg
	}
	return in, nil
}

func classify(fields map[string]json.RawMessage, mode WireMode) (Kind, bool, error) {
	if mode == WireModeTagged {
		if rawType, ok := fields["type"]; ok {
			var tag string
			if err := json.Unmarshal(rawType, &tag); err != nil {
				return KindUnknown, false, apperrors.ParseFailed(err)
			}
			switch tag {
			case TypeSuggestions:
				return KindSuggestions, false, nil
			case TypeDiagnostics:
				return KindDiagnostics, false, nil
			default:
				return KindUnknown, false, apperrors.Unrecognized(fmt.Sprintf("unknown frame type %q", tag))
			}
		}
	}

	items, hasItems := fields["items"]
	hasItems = hasItems && isArray(items)
	_, hasVulns := fields["vulnerabilities"]

	switch {
	case hasItems:
		return KindSuggestions, hasVulns, nil
	case hasVulns:
		return KindDiagnostics, false, nil
	default:
		return KindUnknown, false, apperrors.Unrecognized("frame has neither an items array nor vulnerabilities")
	}
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
