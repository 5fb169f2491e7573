// Package protocol defines the JSON wire contract spoken with the analysis
// backend.
//
// All frames are JSON text frames. Inbound frames come in two kinds:
//   - suggestions: {file_path, items:[RefactorItem...]}
//   - diagnostics: {file_path, vulnerabilities:[Vulnerability...]}
//
// The current backend does not tag its frames, so Decode classifies them by
// shape. Newer backends may add "type":"suggestions"|"diagnostics", which is
// honoured when the bridge runs in WireModeTagged.
package protocol

// Location is a span reported by the backend. Lines are 1-indexed.
// Columns are optional; a missing start column means column 0 and a
// missing end column means end of line.
type Location struct {
	StartLine int  `json:"start_line"`
	EndLine   int  `json:"end_line"`
	StartCol  *int `json:"start_col,omitempty"`
	EndCol    *int `json:"end_col,omitempty"`
}

// RefactorItem is one proposed rewrite of a span.
// ID is unique within a file's suggestion list.
type RefactorItem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Location    Location `json:"location"`
	PatchedCode string   `json:"patched_code"`
	Description string   `json:"description,omitempty"`
}

// RefactorSuggestion replaces the whole suggestion list for FilePath.
type RefactorSuggestion struct {
	Type     string         `json:"type,omitempty"`
	FilePath string         `json:"file_path"`
	Items    []RefactorItem `json:"items"`
}

// Vulnerability is one security finding on a single line (1-indexed).
type Vulnerability struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	FilePath    string `json:"file_path,omitempty"`
}

// ContextAnalyzerPayload replaces the whole diagnostic set for FilePath.
type ContextAnalyzerPayload struct {
	Type            string          `json:"type,omitempty"`
	FilePath        string          `json:"file_path"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// Inbound frame tags understood in WireModeTagged.
const (
	TypeSuggestions = "suggestions"
	TypeDiagnostics = "diagnostics"
)

// Outbound action and event markers.
const (
	ActionRequestSuggestions = "REQUEST_SUGGESTIONS"
	EventSave                = "save"
)

// Decision is the user's verdict on a suggestion.
type Decision string

const (
	Accepted Decision = "ACCEPTED"
	Rejected Decision = "REJECTED"
)

// EditMessage carries the full document text after a debounced edit burst.
type EditMessage struct {
	FilePath   string `json:"file_path"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
	LanguageID string `json:"languageId"`
}

// SaveMessage is sent immediately when a document is saved.
type SaveMessage struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Version  int    `json:"version"`
	Event    string `json:"event"`
}

// RequestMessage asks the backend to analyze a document now.
type RequestMessage struct {
	Action   string `json:"action"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// FeedbackMessage reports whether a suggestion was applied or dismissed.
type FeedbackMessage struct {
	Action       Decision `json:"action"`
	SuggestionID string   `json:"suggestion_id"`
	FilePath     string   `json:"file_path"`
}

// NewSaveMessage builds a save checkpoint message.
func NewSaveMessage(path, content string, version int) SaveMessage {
	return SaveMessage{FilePath: path, Content: content, Version: version, Event: EventSave}
}

// NewRequestMessage builds an on-demand analysis request.
func NewRequestMessage(path, content string) RequestMessage {
	return RequestMessage{Action: ActionRequestSuggestions, FilePath: path, Content: content}
}
