// Package relay hosts the signaling store over websocket. It holds one
// in-memory document tree shared by every connection; clients perform
// put/update/delete/get/list operations and subscribe to path prefixes,
// getting live change events pushed back. This is the server half of
// store.Remote.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/petervdpas/bubbles/internal/store"
)

// Server is the relay HTTP/websocket server.
type Server struct {
	addr string
	srv  *http.Server
	ln   net.Listener

	docs *store.Memory

	mu      sync.Mutex
	conns   map[*conn]struct{}
	started time.Time
}

// New creates a relay server that will bind to addr ("host:port",
// port 0 picks a free one).
func New(addr string) *Server {
	return &Server{
		addr:  addr,
		docs:  store.NewMemory(),
		conns: make(map[*conn]struct{}),
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.started = time.Now()
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("RELAY: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	log.Printf("RELAY: signaling store listening on %s", ln.Addr())
	return nil
}

// URL returns the websocket URL clients should dial.
func (s *Server) URL() string {
	if s.ln == nil {
		return ""
	}
	return "ws://" + s.ln.Addr().String() + "/ws"
}

// Close shuts the server down, disconnecting every client. Idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()

	for c := range conns {
		c.close()
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	}
	s.docs.Close()
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.conns)
	up := time.Since(s.started).Round(time.Second)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"clients": n,
		"uptime":  up.String(),
	})
}
