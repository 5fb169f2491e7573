package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/umi/bridge/internal/config"
	apperrors "github.com/umi/bridge/internal/errors"
)

// settingsFlags are the config overrides shared by run and doctor.
type settingsFlags struct {
	configPath  string
	backend     string
	wireMode    string
	debounceMs  int
	logLevel    string
	logFile     string
	telemetryDB string
	noTelemetry bool
	discover    bool
}

func (f *settingsFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Config file path (default: ~/.umi/config.toml)")
	fs.StringVar(&f.backend, "backend", "", "Backend WebSocket URL (default: ws://127.0.0.1:8765/ws)")
	fs.StringVar(&f.wireMode, "wire-mode", "", "Inbound classification: shape or tagged")
	fs.IntVar(&f.debounceMs, "debounce-ms", 0, "Edit debounce window in milliseconds (default: 300)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug or info")
	fs.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.StringVar(&f.telemetryDB, "telemetry-db", "", "Telemetry database path (default: ~/.umi/telemetry.db)")
	fs.BoolVar(&f.noTelemetry, "no-telemetry", false, "Do not record accept/reject decisions locally")
	fs.BoolVar(&f.discover, "discover", false, "Find the backend over mDNS when no URL is set")
}

// resolve loads the config file and applies explicitly set flags on top.
func (f *settingsFlags) resolve(fs *flag.FlagSet) (config.Settings, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Settings{}, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	if f.backend != "" {
		cfg.BackendURL = f.backend
	}
	if f.wireMode != "" {
		cfg.WireMode = f.wireMode
	}
	if explicit["debounce-ms"] {
		cfg.DebounceMs = f.debounceMs
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	if f.telemetryDB != "" {
		cfg.TelemetryDB = f.telemetryDB
	}
	if explicit["no-telemetry"] {
		enabled := !f.noTelemetry
		cfg.TelemetryEnabled = &enabled
	}
	if explicit["discover"] {
		cfg.MdnsDiscover = f.discover
	}

	return cfg.Resolve()
}

// parseFlags parses args and reports whether the command should exit, and
// with which code.
func parseFlags(fs *flag.FlagSet, args []string) (exit bool, code int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, 0
		}
		return true, 1
	}
	return false, 0
}

// printError writes a coded error with its remediation hint.
func printError(w io.Writer, err error) {
	code, msg := apperrors.ToCodeAndMessage(err)
	fmt.Fprintf(w, "Error: %s\n", msg)
	if next := apperrors.GetNextAction(code); next != "" {
		fmt.Fprintf(w, "  -> %s\n", next)
	}
}

// setupLogging points the standard logger at the configured file, or at
// stderr. The returned func closes the file.
func setupLogging(path string, stderr io.Writer) (func(), error) {
	if path == "" {
		log.SetOutput(stderr)
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(stderr)
		f.Close()
	}, nil
}
