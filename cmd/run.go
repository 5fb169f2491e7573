package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/umi/bridge/internal/bridge"
	"github.com/umi/bridge/internal/config"
	"github.com/umi/bridge/internal/mdns"
	"github.com/umi/bridge/internal/storage"
	"github.com/umi/bridge/internal/suggest"
)

// discoveryTimeout bounds the mDNS browse when no backend URL is set.
const discoveryTimeout = 3 * time.Second

// Function-variable seams for tests.
var (
	runStdin         io.Reader = os.Stdin
	runDiscover                = mdns.FirstBackend
	runOpenTelemetry           = openTelemetry
)

// telemetry is the part of the telemetry store `umi run` needs.
type telemetry interface {
	suggest.Recorder
	Close() error
}

func openTelemetry(path string) (telemetry, error) {
	return storage.NewTelemetryStore(path)
}

// runBridge implements `umi run`. It exits 0 when stdin closes or on
// SIGINT/SIGTERM, after an orderly teardown.
func runBridge(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var sf settingsFlags
	sf.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: umi run [options]\n\nBridge an editor to the analysis backend over stdin/stdout.\nEditor events are read as JSON lines from stdin; notifications are written as JSON lines to stdout.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if exit, code := parseFlags(fs, args); exit {
		return code
	}

	settings, err := sf.resolve(fs)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	closeLog, err := setupLogging(settings.LogFile, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.BackendURL == "" {
		log.Printf("run: no backend_url, browsing for %s", mdns.ServiceType)
		url, err := runDiscover(ctx, discoveryTimeout)
		if err != nil {
			log.Printf("run: discovery failed (%v), using %s", err, config.DefaultBackendURL)
			url = config.DefaultBackendURL
		}
		settings.BackendURL = url
	}

	host := newStdioHost(stdout)
	opts := bridge.Options{
		Notifier: host,
		Sink:     host.sink,
		OnStatus: host.status,
	}

	if settings.TelemetryEnabled {
		store, err := runOpenTelemetry(settings.TelemetryDB)
		if err != nil {
			// Telemetry is optional; the bridge runs without it.
			log.Printf("run: telemetry disabled: %v", err)
		} else {
			defer store.Close()
			opts.Recorder = store
		}
	}

	b := bridge.New(bridge.FromSettings(settings), opts)
	b.Activate()
	defer b.Deactivate()

	if err := host.serve(ctx, b, runStdin); err != nil {
		log.Printf("run: reading editor events: %v", err)
		return 1
	}
	log.Printf("run: editor input closed, shutting down")
	return 0
}
