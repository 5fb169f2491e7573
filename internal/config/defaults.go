package config

// DirName is the per-user state directory under $HOME.
const DirName = ".umi"

// DefaultBackendURL is the local analysis backend endpoint.
const DefaultBackendURL = "ws://127.0.0.1:8765/ws"

// Timing and throttle defaults.
const (
	DefaultDebounceMs         = 300
	DefaultReconnectInitialMs = 1000
	DefaultReconnectMaxMs     = 60000
	DefaultRequestRate        = 2.0
	DefaultRequestBurst       = 3
)
