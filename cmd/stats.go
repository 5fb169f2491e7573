package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/umi/bridge/internal/config"
	"github.com/umi/bridge/internal/storage"
)

// statsStore is the read side of the telemetry store.
type statsStore interface {
	Summarize() (storage.Summary, error)
	AdaptationRatios() (map[string]float64, error)
	Recent(limit int) ([]storage.Interaction, error)
	Cleanup(retention time.Duration) (int64, error)
	Close() error
}

var statsOpen = func(path string) (statsStore, error) {
	return storage.NewTelemetryStore(path)
}

// statsNow anchors relative times in output.
var statsNow = time.Now

// StatsResult is the JSON output of `umi stats --json`.
type StatsResult struct {
	Summary storage.Summary       `json:"summary"`
	Ratios  map[string]float64    `json:"ratios"`
	Recent  []storage.Interaction `json:"recent"`
	Pruned  int64                 `json:"pruned,omitempty"`
}

// runStats implements `umi stats`.
func runStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Config file path (default: ~/.umi/config.toml)")
	dbPath := fs.String("telemetry-db", "", "Telemetry database path override")
	limit := fs.Int("recent", 10, "Number of recent decisions to show")
	prune := fs.Duration("prune", 0, "Delete decisions older than this (for example 720h)")
	jsonMode := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: umi stats [options]\n\nShow locally recorded accept/reject decisions.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if exit, code := parseFlags(fs, args); exit {
		return code
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			printError(stderr, err)
			return 1
		}
		path = cfg.TelemetryDB
	}
	if path == "" {
		p, err := config.DefaultTelemetryPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		path = p
	}

	store, err := statsOpen(path)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer store.Close()

	var result StatsResult
	if *prune > 0 {
		if result.Pruned, err = store.Cleanup(*prune); err != nil {
			printError(stderr, err)
			return 1
		}
	}
	if result.Summary, err = store.Summarize(); err != nil {
		printError(stderr, err)
		return 1
	}
	if result.Ratios, err = store.AdaptationRatios(); err != nil {
		printError(stderr, err)
		return 1
	}
	if result.Recent, err = store.Recent(*limit); err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonMode {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}
	renderStatsHuman(stdout, path, result)
	return 0
}

func renderStatsHuman(w io.Writer, path string, r StatsResult) {
	now := statsNow()
	s := r.Summary

	fmt.Fprintf(w, "Telemetry: %s\n", path)
	if r.Pruned > 0 {
		fmt.Fprintf(w, "Pruned %s old decisions\n", humanize.Comma(r.Pruned))
	}
	if s.Total == 0 {
		fmt.Fprintln(w, "No decisions recorded yet.")
		return
	}

	fmt.Fprintf(w, "Decisions: %s (%s accepted, %s rejected) across %s\n",
		humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.Accepted)),
		humanize.Comma(int64(s.Rejected)),
		pluralize(s.Sessions, "session"))
	fmt.Fprintf(w, "Accept rate: %s%%\n", humanize.FtoaWithDigits(s.AcceptRate()*100, 1))
	fmt.Fprintf(w, "First: %s   Last: %s\n",
		humanize.RelTime(s.First, now, "ago", "from now"),
		humanize.RelTime(s.Last, now, "ago", "from now"))

	if len(r.Ratios) > 0 {
		ids := make([]string, 0, len(r.Ratios))
		for id := range r.Ratios {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if r.Ratios[ids[i]] != r.Ratios[ids[j]] {
				return r.Ratios[ids[i]] > r.Ratios[ids[j]]
			}
			return ids[i] < ids[j]
		})
		fmt.Fprintln(w, "\nAcceptance by suggestion:")
		for _, id := range ids {
			fmt.Fprintf(w, "  %-24s %5s%%\n", id, humanize.FtoaWithDigits(r.Ratios[id]*100, 1))
		}
	}

	if len(r.Recent) > 0 {
		fmt.Fprintln(w, "\nRecent:")
		for _, in := range r.Recent {
			fmt.Fprintf(w, "  %-8s %-24s %-20s %s\n",
				in.EventType, in.SuggestionID, in.FilePath,
				humanize.RelTime(in.RecordedAt, now, "ago", "from now"))
		}
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), word)
}
