// Package diagnostics projects backend vulnerability reports into editor
// warnings and keeps a cache so they can be restored when a file is reopened.
package diagnostics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/umi/bridge/internal/editor"
	"github.com/umi/bridge/internal/protocol"
)

// Source labels every diagnostic published by the bridge.
const Source = "umi"

// Build converts one vulnerability into a whole-line warning.
func Build(v protocol.Vulnerability) editor.Diagnostic {
	line := v.Line - 1
	if line < 0 {
		line = 0
	}
	return editor.Diagnostic{
		Range:    editor.LineRange(line),
		Severity: editor.SeverityWarning,
		Message:  fmt.Sprintf("[SECURITY] %s: %s", v.Type, v.Description),
		Source:   Source,
	}
}

// Store caches the last diagnostic set per file and mirrors it into the
// editor sink. Cache and sink never disagree after an update returns.
//
// The sink is called without mu held, so it may read the store back.
// publish serializes sink calls in the order the cache changed.
type Store struct {
	publish sync.Mutex
	mu      sync.Mutex
	cache   map[string][]editor.Diagnostic
	sink    editor.DiagnosticSink
}

// NewStore creates a store publishing into sink.
func NewStore(sink editor.DiagnosticSink) *Store {
	return &Store{
		cache: make(map[string][]editor.Diagnostic),
		sink:  sink,
	}
}

// Update replaces the diagnostic set for path. An empty list clears the
// file in both the cache and the sink.
func (s *Store) Update(path string, vulns []protocol.Vulnerability) {
	diags := make([]editor.Diagnostic, 0, len(vulns))
	for _, v := range vulns {
		diags = append(diags, Build(v))
	}

	s.publish.Lock()
	defer s.publish.Unlock()

	s.mu.Lock()
	s.cache[path] = diags
	s.mu.Unlock()

	s.sink.Set(path, copyDiags(diags))
}

// OnOpen republishes cached diagnostics for path, if any.
// It returns whether anything was restored.
func (s *Store) OnOpen(path string) bool {
	s.publish.Lock()
	defer s.publish.Unlock()

	s.mu.Lock()
	diags := copyDiags(s.cache[path])
	s.mu.Unlock()

	if len(diags) == 0 {
		return false
	}
	s.sink.Set(path, diags)
	return true
}

// Get returns the cached diagnostics for path.
func (s *Store) Get(path string) []editor.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDiags(s.cache[path])
}

// Files lists paths with at least one cached diagnostic.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p, d := range s.cache {
		if len(d) > 0 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Count returns the total number of cached diagnostics.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.cache {
		n += len(d)
	}
	return n
}

// Clear empties the cache and the sink.
func (s *Store) Clear() {
	s.publish.Lock()
	defer s.publish.Unlock()

	s.mu.Lock()
	s.cache = make(map[string][]editor.Diagnostic)
	s.mu.Unlock()

	s.sink.Clear()
}

func copyDiags(d []editor.Diagnostic) []editor.Diagnostic {
	if d == nil {
		return nil
	}
	return append([]editor.Diagnostic(nil), d...)
}
