// This file implements `umi doctor`.
//
// The doctor command runs preflight checks for the editor bridge and reports
// remediation guidance for anything that would stop suggestions from
// flowing. It supports human-readable (default) and --json output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/umi/bridge/internal/config"
	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/mdns"
)

// DoctorResult is the top-level JSON output for `umi doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string        `json:"version"`
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check.
type DoctorCheck struct {
	// ID is a stable identifier such as "backend.reachability".
	ID string `json:"id"`

	// Status is "pass", "warn", or "fail".
	Status string `json:"status"`

	Message    string `json:"message"`
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs. These are part of the CLI contract.
const (
	checkIDConfig    = "config.valid"
	checkIDDiscovery = "backend.discovery"
	checkIDBackend   = "backend.reachability"
	checkIDTelemetry = "telemetry.storage"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

const (
	doctorDialTimeout = 3 * time.Second
	mdnsBrowseBudget  = 3 * time.Second
)

// Function-variable seams for tests.
var (
	doctorDial          = defaultDial
	doctorDiscover      = mdns.FirstBackend
	doctorOpenTelemetry = openTelemetry
)

// defaultDial opens and immediately closes a WebSocket to url.
func defaultDial(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: doctorDialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return apperrors.DialFailed(url, err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// runDoctor implements `umi doctor`. Returns 0 when no check fails.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var sf settingsFlags
	sf.register(fs)
	var jsonMode bool
	fs.BoolVar(&jsonMode, "json", false, "Emit machine-readable JSON to stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: umi doctor [options]\n\nCheck configuration, backend reachability and telemetry storage.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if exit, code := parseFlags(fs, args); exit {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*doctorDialTimeout+mdnsBrowseBudget)
	defer cancel()

	settings, cfgErr := sf.resolve(fs)
	checks := []DoctorCheck{evalConfig(cfgErr)}
	if cfgErr == nil {
		url := settings.BackendURL
		if url == "" {
			var disc DoctorCheck
			url, disc = evalDiscovery(ctx)
			checks = append(checks, disc)
		}
		checks = append(checks, evalBackend(ctx, url))
		checks = append(checks, evalTelemetry(settings))
	}

	result := DoctorResult{Version: "1", Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			result.Summary.Pass++
		case statusWarn:
			result.Summary.Warn++
		case statusFail:
			result.Summary.Fail++
		}
	}

	if jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if result.Summary.Fail > 0 {
		return 1
	}
	return 0
}

// evalConfig:
//   - load and resolve succeed -> pass
//   - otherwise -> fail with the coded remediation
func evalConfig(err error) DoctorCheck {
	check := DoctorCheck{ID: checkIDConfig}
	if err == nil {
		check.Status = statusPass
		check.Message = "Configuration loaded and valid."
		check.NextAction = "No action required."
		return check
	}
	code, msg := apperrors.ToCodeAndMessage(err)
	check.Status = statusFail
	check.Message = fmt.Sprintf("Configuration error: %s", msg)
	check.NextAction = apperrors.GetNextAction(code)
	if check.NextAction == "" {
		check.NextAction = "Fix ~/.umi/config.toml or the flag values and rerun doctor."
	}
	return check
}

// evalDiscovery:
//   - a backend is advertised -> pass, its URL is probed next
//   - nothing found -> warn, the default URL is probed instead
func evalDiscovery(ctx context.Context) (string, DoctorCheck) {
	check := DoctorCheck{ID: checkIDDiscovery}
	url, err := doctorDiscover(ctx, mdnsBrowseBudget)
	if err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("No backend advertised over mDNS: %v", err)
		check.NextAction = "Start a backend that advertises " + mdns.ServiceType + " or set backend_url."
		return config.DefaultBackendURL, check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Discovered backend at %s.", url)
	check.NextAction = "No action required."
	return url, check
}

// evalBackend:
//   - WebSocket handshake succeeds -> pass
//   - otherwise -> fail
func evalBackend(ctx context.Context, url string) DoctorCheck {
	check := DoctorCheck{ID: checkIDBackend}
	if err := doctorDial(ctx, url); err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Cannot reach backend at %s: %s", url, apperrors.GetMessage(err))
		check.NextAction = apperrors.GetNextAction(apperrors.CodeTransportDialFailed)
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Backend is accepting WebSocket connections at %s.", url)
	check.NextAction = "No action required."
	return check
}

// evalTelemetry:
//   - telemetry disabled -> warn
//   - database opens -> pass
//   - otherwise -> warn (the bridge runs without telemetry)
func evalTelemetry(s config.Settings) DoctorCheck {
	check := DoctorCheck{ID: checkIDTelemetry}
	if !s.TelemetryEnabled {
		check.Status = statusWarn
		check.Message = "Telemetry is disabled; accept/reject history is not kept."
		check.NextAction = "Set telemetry_enabled = true to record feedback locally."
		return check
	}
	store, err := doctorOpenTelemetry(s.TelemetryDB)
	if err != nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Telemetry database unavailable: %s", apperrors.GetMessage(err))
		check.NextAction = apperrors.GetNextAction(apperrors.CodeStorageOpenFailed)
		return check
	}
	store.Close()
	check.Status = statusPass
	check.Message = fmt.Sprintf("Telemetry database ready at %s.", s.TelemetryDB)
	check.NextAction = "No action required."
	return check
}

func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Umi Doctor")
	fmt.Fprintln(w, "==========")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// runInit implements `umi init`.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "Where to write the config (default: ~/.umi/config.toml)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: umi init [--config path]\n\nWrite a starter config. An existing file is left unchanged.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if exit, code := parseFlags(fs, args); exit {
		return code
	}

	target := *path
	if target == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		target = p
	}
	_, statErr := os.Stat(target)
	if err := config.WriteDefault(target); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if statErr == nil {
		fmt.Fprintf(stdout, "Config already exists at %s (left unchanged)\n", target)
	} else {
		fmt.Fprintf(stdout, "Wrote %s\n", target)
	}
	return 0
}
