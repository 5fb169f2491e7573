// Package suggest keeps the per-file refactor suggestions pushed by the
// backend and projects them into quick-fix actions on demand.
package suggest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/umi/bridge/internal/editor"
	"github.com/umi/bridge/internal/protocol"
)

// Store maps file paths to the latest suggestion list for that file.
// Only the router writes to it; everything else reads snapshots.
type Store struct {
	mu       sync.RWMutex
	items    map[string][]protocol.RefactorItem
	notifier editor.Notifier
}

// NewStore creates an empty store. notifier may be nil.
func NewStore(notifier editor.Notifier) *Store {
	return &Store{
		items:    make(map[string][]protocol.RefactorItem),
		notifier: notifier,
	}
}

// Update replaces the suggestion list for path wholesale. Earlier
// suggestions for the file are discarded, never merged.
func (s *Store) Update(path string, items []protocol.RefactorItem) {
	snapshot := append([]protocol.RefactorItem(nil), items...)

	s.mu.Lock()
	s.items[path] = snapshot
	s.mu.Unlock()

	if len(snapshot) > 0 && s.notifier != nil {
		s.notifier.Info(fmt.Sprintf("%d optimization suggestion(s) available for %s", len(snapshot), path))
	}
}

// Items returns a copy of the stored list for path in arrival order.
func (s *Store) Items(path string) []protocol.RefactorItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.RefactorItem(nil), s.items[path]...)
}

// Lookup finds one item by id within a file's list.
func (s *Store) Lookup(path, id string) (protocol.RefactorItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items[path] {
		if it.ID == id {
			return it, true
		}
	}
	return protocol.RefactorItem{}, false
}

// Files returns the paths that currently hold at least one suggestion.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for p, items := range s.items {
		if len(items) > 0 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Clear drops every stored suggestion.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make(map[string][]protocol.RefactorItem)
	s.mu.Unlock()
}
