// Package mdns advertises and discovers analysis backends on the local
// network over DNS-SD.
//
// Backends register as _umi._tcp with TXT records:
//   - version: protocol version
//   - name: human-readable host name
//   - path: WebSocket path on the advertised port (defaults to /ws)
//
// The bridge only browses when it has no backend_url configured and
// discovery is switched on.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for analysis backends.
const ServiceType = "_umi._tcp"

// ProtocolVersion is advertised so clients can skip incompatible backends.
const ProtocolVersion = "1"

// DefaultPath is the WebSocket path assumed when a backend omits one.
const DefaultPath = "/ws"

// ErrNoBackend is returned when discovery finds nothing before its deadline.
var ErrNoBackend = errors.New("no analysis backend found on the local network")

// Config holds advertisement settings.
type Config struct {
	// Port is the backend's listening port.
	Port int

	// Path is the WebSocket endpoint path. Defaults to /ws.
	Path string

	// Name is the instance name. Defaults to the system hostname.
	Name string
}

// Advertiser manages one DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser; call Start to register.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// TXTRecords returns the metadata published with the registration.
func (a *Advertiser) TXTRecords() []string {
	path := a.config.Path
	if path == "" {
		path = DefaultPath
	}
	return []string{
		"version=" + ProtocolVersion,
		"name=" + a.instanceName(),
		"path=" + path,
	}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "umi-backend"
}

// Start registers the service. Calling Start while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(
		a.instanceName(),
		ServiceType,
		"local.",
		a.config.Port,
		a.TXTRecords(),
		nil,
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

// Stop unregisters the service. Safe on a stopped or never-started advertiser.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredBackend is one backend found by browsing.
type DiscoveredBackend struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// URL returns the backend's WebSocket endpoint.
func (b DiscoveredBackend) URL() string {
	path := b.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) + path
}

// fromEntry converts a resolver entry, preferring IPv4 addresses.
func fromEntry(entry *zeroconf.ServiceEntry) DiscoveredBackend {
	b := DiscoveredBackend{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		b.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		b.Host = entry.AddrIPv6[0].String()
	} else {
		b.Host = strings.TrimSuffix(entry.HostName, ".")
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			b.Version = value
		case "name":
			b.Name = value
		case "path":
			b.Path = value
		}
	}
	return b
}

// browse is swapped out in tests.
var browse = func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	return nil
}

// Discover collects backends until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredBackend, error) {
	var (
		backends []DiscoveredBackend
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			b := fromEntry(entry)
			if b.Host == "" || b.Port == 0 {
				continue
			}
			mu.Lock()
			backends = append(backends, b)
			mu.Unlock()
		}
	}()

	if err := browse(ctx, entries); err != nil {
		// The resolver never started, so nothing else closes entries.
		close(entries)
		wg.Wait()
		return nil, err
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	wg.Wait()

	return backends, nil
}

// FirstBackend browses for up to timeout and returns the URL of the first
// compatible backend found.
func FirstBackend(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backends, err := Discover(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range backends {
		if b.Version == "" || b.Version == ProtocolVersion {
			return b.URL(), nil
		}
	}
	return "", ErrNoBackend
}
