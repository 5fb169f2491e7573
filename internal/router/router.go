// Package router classifies inbound backend frames and hands each one to the
// store that owns its kind.
package router

import (
	"log"
	"sync/atomic"

	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

// SuggestionSink receives replacement suggestion lists.
type SuggestionSink interface {
	Update(path string, items []protocol.RefactorItem)
}

// DiagnosticSink receives replacement vulnerability sets.
type DiagnosticSink interface {
	Update(path string, vulnerabilities []protocol.Vulnerability)
}

// Stats counts frames by outcome.
type Stats struct {
	Suggestions int64 `json:"suggestions"`
	Diagnostics int64 `json:"diagnostics"`
	Dropped     int64 `json:"dropped"`
}

// Router dispatches decoded frames synchronously. It is the only writer of
// the suggestion and diagnostic stores.
type Router struct {
	mode        protocol.WireMode
	suggestions SuggestionSink
	diagnostics DiagnosticSink

	nSuggestions atomic.Int64
	nDiagnostics atomic.Int64
	nDropped     atomic.Int64
}

// New creates a router. An invalid mode falls back to shape classification.
func New(mode protocol.WireMode, suggestions SuggestionSink, diagnostics DiagnosticSink) *Router {
	if !mode.Valid() {
		mode = protocol.WireModeShape
	}
	return &Router{
		mode:        mode,
		suggestions: suggestions,
		diagnostics: diagnostics,
	}
}

// OnMessage handles one raw frame. It never panics on bad input and never
// returns an error: malformed or unrecognized frames are logged and dropped
// without touching any store.
func (r *Router) OnMessage(raw []byte) {
	in, err := protocol.Decode(raw, r.mode)
	if err != nil {
		r.nDropped.Add(1)
		code, msg := apperrors.ToCodeAndMessage(err)
		log.Printf("router: dropped frame (%s): %s", code, msg)
		return
	}

	switch in.Kind {
	case protocol.KindSuggestions:
		if in.Ambiguous {
			log.Printf("router: frame for %s has both items and vulnerabilities, treating as suggestions", in.Suggestions.FilePath)
		}
		r.nSuggestions.Add(1)
		r.suggestions.Update(in.Suggestions.FilePath, in.Suggestions.Items)
	case protocol.KindDiagnostics:
		r.nDiagnostics.Add(1)
		r.diagnostics.Update(in.Diagnostics.FilePath, in.Diagnostics.Vulnerabilities)
	}
}

// Stats returns a snapshot of the frame counters.
func (r *Router) Stats() Stats {
	return Stats{
		Suggestions: r.nSuggestions.Load(),
		Diagnostics: r.nDiagnostics.Load(),
		Dropped:     r.nDropped.Load(),
	}
}
