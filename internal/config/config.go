// Package config loads the bridge's TOML configuration.
// The file lives at ~/.umi/config.toml by default and can be overridden with
// the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

// Config mirrors the TOML file. Zero values mean "use the default";
// Resolve turns a Config into concrete Settings.
type Config struct {
	// BackendURL is the analysis backend's WebSocket endpoint.
	// Default: ws://127.0.0.1:8765/ws
	BackendURL string `toml:"backend_url"`

	// WireMode selects inbound classification: "shape" or "tagged".
	// Default: shape
	WireMode string `toml:"wire_mode"`

	// DebounceMs is the quiet period before an edit is sent upstream.
	// Default: 300
	DebounceMs int `toml:"debounce_ms"`

	// ReconnectInitialMs is the first reconnect delay. Default: 1000
	ReconnectInitialMs int `toml:"reconnect_initial_ms"`

	// ReconnectMaxMs caps the doubling reconnect delay. Default: 60000
	ReconnectMaxMs int `toml:"reconnect_max_ms"`

	// RequestRatePerSec and RequestBurst throttle manual analysis requests.
	// Default: 2 per second, burst 3
	RequestRatePerSec float64 `toml:"request_rate_per_sec"`
	RequestBurst      int     `toml:"request_burst"`

	// TelemetryDB is the SQLite file for accept/reject history.
	// Default: ~/.umi/telemetry.db
	TelemetryDB string `toml:"telemetry_db"`

	// TelemetryEnabled turns local feedback recording on or off.
	// Default: true
	TelemetryEnabled *bool `toml:"telemetry_enabled"`

	// MdnsDiscover browses the LAN for a backend when BackendURL is empty.
	// Default: false
	MdnsDiscover bool `toml:"mdns_discover"`

	// LogLevel controls logging verbosity: "info" or "debug" (adds per-frame
	// and per-send logs).
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFile redirects log output. Default: stderr
	LogFile string `toml:"log_file"`
}

// Settings is a fully resolved, validated configuration.
type Settings struct {
	BackendURL       string
	WireMode         protocol.WireMode
	Debounce         time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	RequestRate      float64
	RequestBurst     int
	TelemetryDB      string
	TelemetryEnabled bool
	MdnsDiscover     bool
	LogLevel         string
	LogFile          string
}

// Debug reports whether per-frame debug logging is on.
func (s Settings) Debug() bool {
	return s.LogLevel == "debug"
}

// DefaultConfigPath returns ~/.umi/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultTelemetryPath returns ~/.umi/telemetry.db.
func DefaultTelemetryPath() (string, error) {
	dir, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "telemetry.db"), nil
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// WriteDefault writes a commented starter config to path. An existing file
// is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Umi bridge configuration

# Analysis backend WebSocket endpoint
backend_url = %q

# "shape" classifies frames by their fields, "tagged" reads the type field
wire_mode = %q

debounce_ms = %d
reconnect_initial_ms = %d
reconnect_max_ms = %d

telemetry_enabled = true
log_level = "info"
`, DefaultBackendURL, protocol.WireModeShape, DefaultDebounceMs, DefaultReconnectInitialMs, DefaultReconnectMaxMs)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the TOML file at path.
//
// An empty path tries the default location and returns an empty Config when
// that file does not exist. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperrors.New(apperrors.CodeConfigNotFound, fmt.Sprintf("config file not found: %s", path))
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigInvalid, fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return cfg, nil
}

// Resolve applies defaults and validates every field.
func (c *Config) Resolve() (Settings, error) {
	s := Settings{
		BackendURL:       c.BackendURL,
		WireMode:         protocol.WireMode(c.WireMode),
		Debounce:         ms(c.DebounceMs, DefaultDebounceMs),
		ReconnectInitial: ms(c.ReconnectInitialMs, DefaultReconnectInitialMs),
		ReconnectMax:     ms(c.ReconnectMaxMs, DefaultReconnectMaxMs),
		RequestRate:      c.RequestRatePerSec,
		RequestBurst:     c.RequestBurst,
		TelemetryDB:      c.TelemetryDB,
		TelemetryEnabled: true,
		MdnsDiscover:     c.MdnsDiscover,
		LogLevel:         c.LogLevel,
		LogFile:          c.LogFile,
	}

	if s.BackendURL == "" && !s.MdnsDiscover {
		s.BackendURL = DefaultBackendURL
	}
	if s.WireMode == "" {
		s.WireMode = protocol.WireModeShape
	}
	if s.RequestRate == 0 {
		s.RequestRate = DefaultRequestRate
	}
	if s.RequestBurst == 0 {
		s.RequestBurst = DefaultRequestBurst
	}
	if c.TelemetryEnabled != nil {
		s.TelemetryEnabled = *c.TelemetryEnabled
	}
	if s.TelemetryEnabled && s.TelemetryDB == "" {
		if p, err := DefaultTelemetryPath(); err == nil {
			s.TelemetryDB = p
		} else {
			s.TelemetryEnabled = false
		}
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}

	if err := s.validate(c); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate(c *Config) error {
	if s.BackendURL != "" {
		u, err := url.Parse(s.BackendURL)
		if err != nil {
			return apperrors.InvalidConfig("backend_url", err.Error())
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return apperrors.InvalidConfig("backend_url", fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme))
		}
		if u.Host == "" {
			return apperrors.InvalidConfig("backend_url", "missing host")
		}
	}
	if !s.WireMode.Valid() {
		return apperrors.InvalidConfig("wire_mode", fmt.Sprintf("must be %q or %q, got %q", protocol.WireModeShape, protocol.WireModeTagged, s.WireMode))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"debounce_ms", c.DebounceMs},
		{"reconnect_initial_ms", c.ReconnectInitialMs},
		{"reconnect_max_ms", c.ReconnectMaxMs},
		{"request_burst", c.RequestBurst},
	} {
		if f.v < 0 {
			return apperrors.InvalidConfig(f.name, "must not be negative")
		}
	}
	if s.RequestRate < 0 {
		return apperrors.InvalidConfig("request_rate_per_sec", "must not be negative")
	}
	if s.ReconnectMax < s.ReconnectInitial {
		return apperrors.InvalidConfig("reconnect_max_ms", "must be at least reconnect_initial_ms")
	}
	switch s.LogLevel {
	case "debug", "info":
	default:
		return apperrors.InvalidConfig("log_level", fmt.Sprintf("unknown level %q", s.LogLevel))
	}
	return nil
}

func ms(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}
