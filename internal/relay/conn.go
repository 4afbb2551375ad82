package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/bubbles/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay fronts anonymous clients; there is no browser origin to pin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// conn is one connected store client.
type conn struct {
	ws       *websocket.Conn
	outgoing chan []byte
	done     chan struct{}

	mu        sync.Mutex
	subs      map[string]func() // sub id -> cancel
	closeOnce sync.Once
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("RELAY: upgrade failed: %v", err)
		return
	}

	c := &conn{
		ws:       ws,
		outgoing: make(chan []byte, 256),
		done:     make(chan struct{}),
		subs:     make(map[string]func()),
	}
	s.addConn(c)
	log.Printf("RELAY: client connected (%s)", ws.RemoteAddr())

	go c.writePump()
	c.readPump(s)

	s.removeConn(c)
	c.close()
	log.Printf("RELAY: client disconnected (%s)", ws.RemoteAddr())
}

// readPump reads client ops, applies them to the shared store, and queues acks.
func (c *conn) readPump(s *Server) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var op store.OpFrame
		if err := c.ws.ReadJSON(&op); err != nil {
			return
		}
		c.send(c.apply(s, &op))
	}
}

// apply executes one op against the shared document tree.
func (c *conn) apply(s *Server, op *store.OpFrame) *store.ServerFrame {
	ack := &store.ServerFrame{Type: store.FrameAck, ID: op.ID}
	ctx := context.Background()

	switch op.Op {
	case store.OpPut:
		if err := s.docs.Put(ctx, op.Path, op.Doc); err != nil {
			ack.Err = err.Error()
		}
	case store.OpUpdate:
		if err := s.docs.Update(ctx, op.Path, op.Fields); err != nil {
			ack.Err = err.Error()
		}
	case store.OpDelete:
		if err := s.docs.Delete(ctx, op.Path); err != nil {
			ack.Err = err.Error()
		}
	case store.OpGet:
		var doc json.RawMessage
		err := s.docs.Get(ctx, op.Path, &doc)
		switch {
		case err == store.ErrNotFound:
			ack.NotFound = true
		case err != nil:
			ack.Err = err.Error()
		default:
			ack.Doc = doc
		}
	case store.OpList:
		docs, err := s.docs.List(ctx, op.Prefix)
		if err != nil {
			ack.Err = err.Error()
		} else {
			ack.Docs = docs
		}
	case store.OpSub:
		c.subscribe(s, op.Sub, op.Prefix)
	case store.OpUnsub:
		c.unsubscribe(op.Sub)
	default:
		ack.Err = "unknown op: " + op.Op
	}
	return ack
}

// subscribe bridges a store subscription onto this connection's write pump.
func (c *conn) subscribe(s *Server, subID, prefix string) {
	events, cancel := s.docs.Subscribe(prefix)

	c.mu.Lock()
	if _, exists := c.subs[subID]; exists {
		c.mu.Unlock()
		cancel()
		return
	}
	c.subs[subID] = cancel
	c.mu.Unlock()

	go func() {
		for evt := range events {
			e := evt
			c.send(&store.ServerFrame{Type: store.FrameEvent, Sub: subID, Event: &e})
		}
	}()
}

func (c *conn) unsubscribe(subID string) {
	c.mu.Lock()
	cancel, ok := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// send marshals a frame onto the outgoing queue. Drops when the client cannot
// keep up — the connection is about to die anyway once pings back up.
func (c *conn) send(frame *store.ServerFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Printf("RELAY: marshal frame: %v", err)
		return
	}
	select {
	case c.outgoing <- b:
	case <-c.done:
	default:
		log.Printf("RELAY: slow client, dropping frame")
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close cancels all subscriptions and stops the write pump. Idempotent.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]func())
		c.mu.Unlock()
		for _, cancel := range subs {
			cancel()
		}
	})
}
