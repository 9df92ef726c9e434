// ABOUTME: Minimal fake agentapi server for local development and E2E testing — echoes messages.
// ABOUTME: Usage: fake-agentapi [-addr localhost:3284] [-agent claude]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type message struct {
	ID      int    `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

type fakeServer struct {
	agentType string

	mu       sync.Mutex
	busy     bool
	messages []message
	nextEvID int64
	subs     map[chan string]struct{}
}

func main() {
	addr := flag.String("addr", "localhost:3284", "listen address")
	agentType := flag.String("agent", "claude", "agent type to report")
	flag.Parse()

	s := &fakeServer{
		agentType: *agentType,
		nextEvID:  1,
		subs:      make(map[chan string]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /messages", s.handleMessages)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /internal/screen", s.handleScreen)
	mux.HandleFunc("GET /events", s.handleEvents)

	log.Printf("fake agentapi listening on %s (agent=%s)", *addr, *agentType)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func (s *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := "stable"
	if s.busy {
		status = "running"
	}
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"agentType": s.agentType,
	})
}

func (s *fakeServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	msgs := append([]message(nil), s.messages...)
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

func (s *fakeServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().Format(time.RFC3339)
	s.mu.Lock()
	s.messages = append(s.messages,
		message{ID: len(s.messages) + 1, Role: "user", Content: req.Content, Time: now},
		message{ID: len(s.messages) + 2, Role: "agent", Content: "echo: " + req.Content, Time: now},
	)
	s.mu.Unlock()

	s.broadcast("message_update", fmt.Sprintf(`{"role":"agent","content":%q}`, "echo: "+req.Content))
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *fakeServer) handleScreen(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.messages)
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{
		"screen": fmt.Sprintf("$ fake agent ready (%d messages)", n),
	})
}

func (s *fakeServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	fl.Flush()

	sub := make(chan string, 16)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case frame := <-sub:
			fmt.Fprint(w, frame)
			fl.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			fl.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *fakeServer) broadcast(evType, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", evType, s.nextEvID, data)
	s.nextEvID++
	for sub := range s.subs {
		select {
		case sub <- frame:
		default: // slow subscriber, drop
		}
	}
}
