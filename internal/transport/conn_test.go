package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/umi/bridge/internal/errors"
)

// backend is a test server that records inbound frames and lets the test
// push frames or drop the connection.
type backend struct {
	t        *testing.T
	upgrader websocket.Upgrader
	received chan []byte
	conns    chan *websocket.Conn
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{
		t:        t,
		received: make(chan []byte, 16),
		conns:    make(chan *websocket.Conn, 4),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		b.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- data
		}
	})
	return b, httptest.NewServer(mux)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

type events struct {
	mu       sync.Mutex
	opened   chan struct{}
	closed   chan error
	messages chan []byte
	errs     []error
}

func newEvents() *events {
	return &events{
		opened:   make(chan struct{}, 4),
		closed:   make(chan error, 4),
		messages: make(chan []byte, 16),
	}
}

func (e *events) handlers() Handlers {
	return Handlers{
		OnOpen:    func() { e.opened <- struct{}{} },
		OnMessage: func(data []byte) { e.messages <- data },
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		},
		OnClose: func(err error) { e.closed <- err },
	}
}

func waitOpen(t *testing.T, e *events) {
	t.Helper()
	select {
	case <-e.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for open")
	}
}

func waitClose(t *testing.T, e *events) error {
	t.Helper()
	select {
	case err := <-e.closed:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	return nil
}

func TestConnSendAndReceive(t *testing.T) {
	b, ts := newBackend(t)
	defer ts.Close()

	ev := newEvents()
	c := New(wsURL(ts.URL), ev.handlers(), Options{})
	if c.State() != StateConnecting {
		t.Fatalf("new conn state = %v, want CONNECTING", c.State())
	}
	c.Open(context.Background())
	defer c.Close()
	waitOpen(t, ev)

	if c.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", c.State())
	}

	if err := c.Send(map[string]string{"action": "REQUEST_SUGGESTIONS"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case data := <-b.received:
		var got map[string]string
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("backend got invalid JSON: %v", err)
		}
		if got["action"] != "REQUEST_SUGGESTIONS" {
			t.Errorf("unexpected frame: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend did not receive the frame")
	}

	server := <-b.conns
	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"file_path":"a.py","items":[]}`)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	select {
	case data := <-ev.messages:
		if string(data) != `{"file_path":"a.py","items":[]}` {
			t.Errorf("unexpected inbound frame %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive the frame")
	}
}

func TestConnDialFailureClosesWithCode(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(ts.URL)
	ts.Close()

	ev := newEvents()
	c := New(url, ev.handlers(), Options{})
	c.Open(context.Background())

	err := waitClose(t, ev)
	if !apperrors.IsCode(err, apperrors.CodeTransportDialFailed) {
		t.Fatalf("close error = %v, want transport.dial_failed", err)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", c.State())
	}

	ev.mu.Lock()
	nErrs := len(ev.errs)
	ev.mu.Unlock()
	if nErrs != 1 {
		t.Errorf("expected 1 error event before close, got %d", nErrs)
	}

	if err := c.Send("x"); !apperrors.IsCode(err, apperrors.CodeTransportNotOpen) {
		t.Errorf("Send on closed conn = %v, want transport.not_open", err)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	_, ts := newBackend(t)
	defer ts.Close()

	ev := newEvents()
	c := New(wsURL(ts.URL), ev.handlers(), Options{})
	c.Open(context.Background())
	waitOpen(t, ev)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	waitClose(t, ev)

	select {
	case <-ev.closed:
		t.Fatal("OnClose fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", c.State())
	}
}

func TestConnServerDropReportsClose(t *testing.T) {
	b, ts := newBackend(t)
	defer ts.Close()

	ev := newEvents()
	c := New(wsURL(ts.URL), ev.handlers(), Options{})
	c.Open(context.Background())
	defer c.Close()
	waitOpen(t, ev)

	server := <-b.conns
	server.Close()

	waitClose(t, ev)
	if c.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", c.State())
	}
}

func TestConnDetachSilencesHandlers(t *testing.T) {
	b, ts := newBackend(t)
	defer ts.Close()

	ev := newEvents()
	c := New(wsURL(ts.URL), ev.handlers(), Options{})
	c.Open(context.Background())
	waitOpen(t, ev)

	c.Detach()
	server := <-b.conns
	server.WriteMessage(websocket.TextMessage, []byte(`{}`))
	c.Close()

	select {
	case <-ev.messages:
		t.Fatal("detached conn delivered a message")
	case <-ev.closed:
		t.Fatal("detached conn delivered a close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseBeforeOpenNeverDials(t *testing.T) {
	ev := newEvents()
	c := New("ws://127.0.0.1:1/ws", ev.handlers(), Options{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close before Open failed: %v", err)
	}
	if err := c.Send("x"); err == nil {
		t.Fatal("Send before open should fail")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateConnecting: "CONNECTING",
		StateOpen:       "OPEN",
		StateClosed:     "CLOSED",
		State(9):        "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

// stallingListener accepts TCP connections but never answers the upgrade.
func stallingListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range held {
			conn.Close()
		}
	})
	return ln
}

func TestCloseAbortsStalledHandshake(t *testing.T) {
	ln := stallingListener(t)

	ev := newEvents()
	dialer := &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	c := New("ws://"+ln.Addr().String()+"/ws", ev.handlers(), Options{Dialer: dialer})
	c.Open(context.Background())

	// Let the TCP connect finish so the dial is parked in the upgrade.
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := waitClose(t, ev); err != nil {
		t.Errorf("aborted dial should close without error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("handshake ran on for %s after Close", elapsed)
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 0 {
		t.Errorf("aborted dial reported errors: %v", ev.errs)
	}
}

func TestCancelledContextAbortsStalledHandshake(t *testing.T) {
	ln := stallingListener(t)

	ev := newEvents()
	dialer := &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	c := New("ws://"+ln.Addr().String()+"/ws", ev.handlers(), Options{Dialer: dialer})
	ctx, cancel := context.WithCancel(context.Background())
	c.Open(ctx)
	defer c.Close()

	time.Sleep(100 * time.Millisecond)
	cancel()

	if err := waitClose(t, ev); err == nil {
		t.Error("a cancelled dial should report a dial failure")
	} else if !apperrors.IsCode(err, apperrors.CodeTransportDialFailed) {
		t.Errorf("expected %s, got %v", apperrors.CodeTransportDialFailed, err)
	}
}
