// Command devbackend is a stand-in analysis backend for local bridge work.
//
// It accepts the bridge's WebSocket connection, answers every edit, save and
// REQUEST_SUGGESTIONS frame with canned findings and logs feedback frames.
//
// Usage: go run ./cmd/devbackend -addr 127.0.0.1:8765 [-mdns]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/umi/bridge/internal/mdns"
	"github.com/umi/bridge/internal/protocol"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// rule is one canned finding triggered by a substring on a line.
type rule struct {
	needle string
	title  string
	patch  string
	vuln   string
	desc   string
}

var rules = []rule{
	{needle: "range(len(", title: "Use enumerate", patch: "for i, item in enumerate(items):", desc: "Iterate with enumerate instead of indexing."},
	{needle: "+= str(", title: "Use join", patch: "result = \"\".join(parts)", desc: "Build strings with join."},
	{needle: "eval(", vuln: "code-injection", desc: "eval on untrusted input executes arbitrary code"},
	{needle: "password =", vuln: "hardcoded-secret", desc: "credential literal committed to source"},
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "Listen address")
	path := flag.String("path", mdns.DefaultPath, "WebSocket path")
	advertise := flag.Bool("mdns", false, "Advertise over mDNS as "+mdns.ServiceType)
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc(*path, handleWS)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if *advertise {
		_, portStr, err := net.SplitHostPort(*addr)
		if err != nil {
			log.Fatalf("devbackend: bad addr %q: %v", *addr, err)
		}
		port, _ := strconv.Atoi(portStr)
		adv := mdns.NewAdvertiser(mdns.Config{Port: port, Path: *path, Name: "devbackend"})
		if err := adv.Start(); err != nil {
			log.Printf("devbackend: mDNS advertisement failed: %v", err)
		} else {
			defer adv.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("devbackend: listening on ws://%s%s", *addr, *path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("devbackend: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("devbackend: bridge connected from %s", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("devbackend: read error: %v", err)
			}
			return
		}
		for _, reply := range respond(data) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(reply); err != nil {
				log.Printf("devbackend: write error: %v", err)
				return
			}
		}
	}
}

// inbound covers every frame the bridge sends.
type inbound struct {
	Action       string `json:"action"`
	Event        string `json:"event"`
	FilePath     string `json:"file_path"`
	Content      string `json:"content"`
	SuggestionID string `json:"suggestion_id"`
}

// respond returns the frames to send back for one bridge frame.
func respond(data []byte) []any {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Printf("devbackend: invalid frame: %v", err)
		return nil
	}

	switch {
	case in.SuggestionID != "":
		log.Printf("devbackend: feedback %s on %s (%s)", in.Action, in.SuggestionID, in.FilePath)
		return nil
	case in.FilePath == "":
		log.Printf("devbackend: frame without file_path ignored")
		return nil
	case in.Action == protocol.ActionRequestSuggestions:
		log.Printf("devbackend: analysis requested for %s", in.FilePath)
	case in.Event == protocol.EventSave:
		log.Printf("devbackend: save checkpoint for %s", in.FilePath)
	default:
		log.Printf("devbackend: edit for %s (%d bytes)", in.FilePath, len(in.Content))
	}

	items, vulns := analyze(in.Content)
	return []any{
		protocol.RefactorSuggestion{FilePath: in.FilePath, Items: items},
		protocol.ContextAnalyzerPayload{FilePath: in.FilePath, Vulnerabilities: vulns},
	}
}

// analyze applies the canned rules line by line. Empty results are sent as
// empty lists so the bridge clears stale findings.
func analyze(content string) ([]protocol.RefactorItem, []protocol.Vulnerability) {
	items := []protocol.RefactorItem{}
	vulns := []protocol.Vulnerability{}
	for i, line := range strings.Split(content, "\n") {
		for _, r := range rules {
			if !strings.Contains(line, r.needle) {
				continue
			}
			if r.vuln != "" {
				vulns = append(vulns, protocol.Vulnerability{Type: r.vuln, Description: r.desc, Line: i + 1})
				continue
			}
			items = append(items, protocol.RefactorItem{
				ID:          uuid.NewString(),
				Title:       r.title,
				Location:    protocol.Location{StartLine: i + 1, EndLine: i + 1},
				PatchedCode: r.patch,
				Description: r.desc,
			})
		}
	}
	return items, vulns
}
