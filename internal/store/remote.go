package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024

	// ackTimeout is how long an operation waits for the server ack before
	// returning an error to the caller.
	ackTimeout = 10 * time.Second
)

// Remote is a Store backed by a relay server over a websocket connection.
// All operations are request/ack pairs matched by id; subscription events are
// pushed by the server and fanned out to per-subscription queues so one slow
// consumer cannot stall the read pump.
type Remote struct {
	conn *websocket.Conn

	outgoing chan []byte
	done     chan struct{}

	ackMu   sync.Mutex
	pending map[string]chan *ServerFrame

	subMu sync.Mutex
	subs  map[string]*memSub // reuse the queue/drain machinery

	closeOnce sync.Once
}

// Dial connects to a relay server websocket URL (ws://host:port/ws).
func Dial(ctx context.Context, url string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", url, err)
	}

	r := &Remote{
		conn:     conn,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
		pending:  make(map[string]chan *ServerFrame),
		subs:     make(map[string]*memSub),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go r.readPump()
	go r.writePump()

	log.Printf("STORE: connected to %s", url)
	return r, nil
}

// roundTrip sends an op and waits for its ack.
func (r *Remote) roundTrip(ctx context.Context, op *OpFrame) (*ServerFrame, error) {
	op.ID = uuid.NewString()

	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("store: marshal op: %w", err)
	}

	ackCh := make(chan *ServerFrame, 1)
	r.ackMu.Lock()
	r.pending[op.ID] = ackCh
	r.ackMu.Unlock()
	defer func() {
		r.ackMu.Lock()
		delete(r.pending, op.ID)
		r.ackMu.Unlock()
	}()

	select {
	case r.outgoing <- b:
	case <-r.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ackCh:
		if ack.Err != "" {
			return nil, fmt.Errorf("store: %s %s: %s", op.Op, op.Path, ack.Err)
		}
		return ack, nil
	case <-timer.C:
		return nil, fmt.Errorf("store: %s %s: ack timeout", op.Op, op.Path)
	case <-r.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put creates or replaces the document at path.
func (r *Remote) Put(ctx context.Context, path string, doc any) error {
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = r.roundTrip(ctx, &OpFrame{Op: OpPut, Path: path, Doc: raw})
	return err
}

// Update merges fields into the document at path, creating it if absent.
func (r *Remote) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.roundTrip(ctx, &OpFrame{Op: OpUpdate, Path: path, Fields: fields})
	return err
}

// Delete removes the document at path.
func (r *Remote) Delete(ctx context.Context, path string) error {
	_, err := r.roundTrip(ctx, &OpFrame{Op: OpDelete, Path: path})
	return err
}

// Get unmarshals the document at path into out.
func (r *Remote) Get(ctx context.Context, path string, out any) error {
	ack, err := r.roundTrip(ctx, &OpFrame{Op: OpGet, Path: path})
	if err != nil {
		return err
	}
	if ack.NotFound {
		return ErrNotFound
	}
	return json.Unmarshal(ack.Doc, out)
}

// List returns all documents under prefix keyed by path.
func (r *Remote) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	ack, err := r.roundTrip(ctx, &OpFrame{Op: OpList, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if ack.Docs == nil {
		return map[string]json.RawMessage{}, nil
	}
	return ack.Docs, nil
}

// Subscribe watches prefix on the server. The server replays existing
// documents as EventAdded before live changes, same as Memory.
func (r *Remote) Subscribe(prefix string) (<-chan Event, func()) {
	sub := &memSub{
		prefix: prefix,
		out:    make(chan Event, 16),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	subID := uuid.NewString()

	r.subMu.Lock()
	r.subs[subID] = sub
	r.subMu.Unlock()
	go sub.drain()

	ctx, cancelOp := context.WithTimeout(context.Background(), ackTimeout)
	defer cancelOp()
	if _, err := r.roundTrip(ctx, &OpFrame{Op: OpSub, Prefix: prefix, Sub: subID}); err != nil {
		log.Printf("STORE: subscribe %s failed: %v", prefix, err)
		r.dropSub(subID)
		return sub.out, func() {}
	}

	cancel := func() {
		if r.dropSub(subID) {
			// Best-effort server-side unsubscribe; the local queue is already
			// closed so no event can be delivered either way.
			ctx, cancelOp := context.WithTimeout(context.Background(), ackTimeout)
			defer cancelOp()
			_, _ = r.roundTrip(ctx, &OpFrame{Op: OpUnsub, Sub: subID})
		}
	}
	return sub.out, cancel
}

// dropSub removes and closes a local subscription. Reports whether it existed.
func (r *Remote) dropSub(subID string) bool {
	r.subMu.Lock()
	sub, ok := r.subs[subID]
	delete(r.subs, subID)
	r.subMu.Unlock()
	if ok {
		sub.close()
	}
	return ok
}

// Close tears the connection down and closes all subscription channels.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)

		r.subMu.Lock()
		subs := r.subs
		r.subs = make(map[string]*memSub)
		r.subMu.Unlock()
		for _, sub := range subs {
			sub.close()
		}
	})
	return nil
}

// readPump reads server frames and routes acks and events.
func (r *Remote) readPump() {
	defer func() {
		r.conn.Close()
		r.Close()
	}()

	for {
		var frame ServerFrame
		if err := r.conn.ReadJSON(&frame); err != nil {
			select {
			case <-r.done:
			default:
				log.Printf("STORE: connection lost: %v", err)
			}
			return
		}

		switch frame.Type {
		case FrameAck:
			r.ackMu.Lock()
			ch, ok := r.pending[frame.ID]
			r.ackMu.Unlock()
			if ok {
				f := frame
				select {
				case ch <- &f:
				default:
				}
			}
		case FrameEvent:
			if frame.Event == nil {
				continue
			}
			r.subMu.Lock()
			sub, ok := r.subs[frame.Sub]
			r.subMu.Unlock()
			if ok {
				sub.enqueue(*frame.Event)
			}
		}
	}
}

// writePump writes outgoing frames and sends periodic pings.
func (r *Remote) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case b := <-r.outgoing:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.done:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
