package editor

import (
	"log"
	"sort"
	"sync"
)

// Collection is an in-memory DiagnosticSink. Hosts that render diagnostics
// themselves wrap it; tests read it back directly.
type Collection struct {
	mu    sync.RWMutex
	files map[string][]Diagnostic

	// OnChange, when set, is called after every Set with the new contents
	// for the path. It is called without the collection lock held.
	OnChange func(path string, diagnostics []Diagnostic)
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{files: make(map[string][]Diagnostic)}
}

// Set replaces the diagnostics for path. An empty slice removes the entry.
func (c *Collection) Set(path string, diagnostics []Diagnostic) {
	snapshot := append([]Diagnostic(nil), diagnostics...)

	c.mu.Lock()
	if len(snapshot) == 0 {
		delete(c.files, path)
	} else {
		c.files[path] = snapshot
	}
	onChange := c.OnChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(path, snapshot)
	}
}

// Clear removes every entry.
func (c *Collection) Clear() {
	c.mu.Lock()
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	c.files = make(map[string][]Diagnostic)
	onChange := c.OnChange
	c.mu.Unlock()

	if onChange != nil {
		sort.Strings(paths)
		for _, p := range paths {
			onChange(p, nil)
		}
	}
}

// Get returns a copy of the diagnostics published for path.
func (c *Collection) Get(path string) []Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Diagnostic(nil), c.files[path]...)
}

// Paths returns the paths that currently have diagnostics, sorted.
func (c *Collection) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// LogNotifier writes notices to the standard logger.
type LogNotifier struct{}

// Info logs an informational notice.
func (LogNotifier) Info(message string) {
	log.Printf("bridge: %s", message)
}

// Warn logs a warning notice.
func (LogNotifier) Warn(message string) {
	log.Printf("bridge: warning: %s", message)
}
