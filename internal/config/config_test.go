package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

// TestLoad_AllFields verifies every field is parsed from TOML.
func TestLoad_AllFields(t *testing.T) {
	path := writeConfig(t, `
backend_url = "wss://analysis.example.com/ws"
wire_mode = "tagged"
debounce_ms = 500
reconnect_initial_ms = 2000
reconnect_max_ms = 30000
request_rate_per_sec = 0.5
request_burst = 1
telemetry_db = "/tmp/umi.db"
telemetry_enabled = false
mdns_discover = true
log_level = "debug"
log_file = "/tmp/umi.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.BackendURL != "wss://analysis.example.com/ws" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.WireMode != "tagged" {
		t.Errorf("WireMode = %q", cfg.WireMode)
	}
	if cfg.DebounceMs != 500 || cfg.ReconnectInitialMs != 2000 || cfg.ReconnectMaxMs != 30000 {
		t.Errorf("timing fields = %d/%d/%d", cfg.DebounceMs, cfg.ReconnectInitialMs, cfg.ReconnectMaxMs)
	}
	if cfg.RequestRatePerSec != 0.5 || cfg.RequestBurst != 1 {
		t.Errorf("throttle = %v/%d", cfg.RequestRatePerSec, cfg.RequestBurst)
	}
	if cfg.TelemetryDB != "/tmp/umi.db" {
		t.Errorf("TelemetryDB = %q", cfg.TelemetryDB)
	}
	if cfg.TelemetryEnabled == nil || *cfg.TelemetryEnabled {
		t.Errorf("TelemetryEnabled = %v, want explicit false", cfg.TelemetryEnabled)
	}
	if !cfg.MdnsDiscover {
		t.Error("MdnsDiscover = false, want true")
	}
	if cfg.LogLevel != "debug" || cfg.LogFile != "/tmp/umi.log" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFile)
	}

	s, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if s.WireMode != protocol.WireModeTagged || s.Debounce != 500*time.Millisecond || s.ReconnectMax != 30*time.Second {
		t.Errorf("resolved = %+v", s)
	}
	if s.TelemetryEnabled {
		t.Error("telemetry should stay disabled")
	}
	if !s.Debug() {
		t.Error("Debug() should be true at log_level=debug")
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !apperrors.IsCode(err, apperrors.CodeConfigNotFound) {
		t.Fatalf("err = %v, want config.not_found", err)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, `backend_url = [unterminated`)
	_, err := Load(path)
	if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Fatalf("err = %v, want config.invalid", err)
	}
}

func TestLoad_DefaultPathMissingIsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.BackendURL != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := (&Config{}).Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if s.BackendURL != DefaultBackendURL {
		t.Errorf("BackendURL = %q", s.BackendURL)
	}
	if s.WireMode != protocol.WireModeShape {
		t.Errorf("WireMode = %q", s.WireMode)
	}
	if s.Debounce != 300*time.Millisecond || s.ReconnectInitial != time.Second || s.ReconnectMax != time.Minute {
		t.Errorf("timing = %s/%s/%s", s.Debounce, s.ReconnectInitial, s.ReconnectMax)
	}
	if s.RequestRate != 2 || s.RequestBurst != 3 {
		t.Errorf("throttle = %v/%d", s.RequestRate, s.RequestBurst)
	}
	if !s.TelemetryEnabled || !strings.HasSuffix(s.TelemetryDB, filepath.Join(DirName, "telemetry.db")) {
		t.Errorf("telemetry = %v %q", s.TelemetryEnabled, s.TelemetryDB)
	}
	if s.LogLevel != "info" || s.Debug() {
		t.Errorf("LogLevel = %q", s.LogLevel)
	}
}

func TestResolve_DiscoveryLeavesURLEmpty(t *testing.T) {
	s, err := (&Config{MdnsDiscover: true}).Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if s.BackendURL != "" {
		t.Errorf("discovery should leave BackendURL empty, got %q", s.BackendURL)
	}
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"http scheme", Config{BackendURL: "http://x/ws"}, "backend_url"},
		{"no host", Config{BackendURL: "ws:///ws"}, "backend_url"},
		{"bad wire mode", Config{WireMode: "xml"}, "wire_mode"},
		{"negative debounce", Config{DebounceMs: -1}, "debounce_ms"},
		{"negative burst", Config{RequestBurst: -2}, "request_burst"},
		{"negative rate", Config{RequestRatePerSec: -1}, "request_rate_per_sec"},
		{"max below initial", Config{ReconnectInitialMs: 5000, ReconnectMaxMs: 1000}, "reconnect_max_ms"},
		{"bad log level", Config{LogLevel: "loud"}, "log_level"},
		{"warn has no effect", Config{LogLevel: "warn"}, "log_level"},
		{"error has no effect", Config{LogLevel: "error"}, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disabled := false
			tt.cfg.TelemetryEnabled = &disabled
			_, err := tt.cfg.Resolve()
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Fatalf("err = %v, want config.invalid", err)
			}
			if !strings.Contains(apperrors.GetMessage(err), tt.field) {
				t.Errorf("message %q should name %s", apperrors.GetMessage(err), tt.field)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written default: %v", err)
	}
	if cfg.BackendURL != DefaultBackendURL || cfg.DebounceMs != DefaultDebounceMs {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	// Existing files are never overwritten.
	if err := os.WriteFile(path, []byte(`log_level = "debug"`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path); err != nil {
		t.Fatalf("second WriteDefault: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `log_level = "debug"` {
		t.Errorf("WriteDefault overwrote existing file: %q", data)
	}
}
