package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. It backs the relay server and the test
// suites. Event delivery never drops: each subscriber has an unbounded
// queue drained by its own goroutine, so a slow consumer cannot stall the
// store lock or lose signaling messages.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]json.RawMessage
	subs   map[*memSub]struct{}
	closed bool
}

type memSub struct {
	prefix string
	out    chan Event
	done   chan struct{}

	qmu    sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]json.RawMessage),
		subs: make(map[*memSub]struct{}),
	}
}

func marshalDoc(doc any) (json.RawMessage, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return cp, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal doc: %w", err)
	}
	return b, nil
}

// Put creates or replaces the document at path.
func (m *Memory) Put(_ context.Context, path string, doc any) error {
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	typ := EventModified
	if _, ok := m.docs[path]; !ok {
		typ = EventAdded
	}
	m.docs[path] = raw
	m.notifyLocked(Event{Type: typ, Path: path, Doc: raw})
	return nil
}

// Update merges fields into the document at path, creating it if absent.
func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	merged := map[string]any{}
	typ := EventAdded
	if existing, ok := m.docs[path]; ok {
		typ = EventModified
		if err := json.Unmarshal(existing, &merged); err != nil {
			return fmt.Errorf("unmarshal existing doc %s: %w", path, err)
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal merged doc: %w", err)
	}
	m.docs[path] = raw
	m.notifyLocked(Event{Type: typ, Path: path, Doc: raw})
	return nil
}

// Delete removes the document at path; absent documents are a no-op.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.docs[path]; !ok {
		return nil
	}
	delete(m.docs, path)
	m.notifyLocked(Event{Type: EventRemoved, Path: path})
	return nil
}

// Get unmarshals the document at path into out.
func (m *Memory) Get(_ context.Context, path string, out any) error {
	m.mu.Lock()
	raw, ok := m.docs[path]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// List returns all documents under prefix keyed by path.
func (m *Memory) List(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string]json.RawMessage)
	for p, raw := range m.docs {
		if underPrefix(p, prefix) {
			cp := make(json.RawMessage, len(raw))
			copy(cp, raw)
			out[p] = cp
		}
	}
	return out, nil
}

// Subscribe watches prefix. Existing documents are replayed as EventAdded
// (sorted by path for determinism) before any live event.
func (m *Memory) Subscribe(prefix string) (<-chan Event, func()) {
	sub := &memSub{
		prefix: prefix,
		out:    make(chan Event, 16),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	var paths []string
	for p := range m.docs {
		if underPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		sub.queue = append(sub.queue, Event{Type: EventAdded, Path: p, Doc: m.docs[p]})
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go sub.drain()
	select {
	case sub.wake <- struct{}{}:
	default:
	}

	cancel := func() {
		m.mu.Lock()
		_, ok := m.subs[sub]
		delete(m.subs, sub)
		m.mu.Unlock()
		if ok {
			sub.close()
		}
	}
	return sub.out, cancel
}

// Close shuts the store down and closes every subscription channel.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[*memSub]struct{})
	m.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
	return nil
}

// notifyLocked enqueues evt on every matching subscriber. Caller holds m.mu.
func (m *Memory) notifyLocked(evt Event) {
	for sub := range m.subs {
		if underPrefix(evt.Path, sub.prefix) {
			sub.enqueue(evt)
		}
	}
}

func (s *memSub) enqueue(evt Event) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, evt)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain feeds queued events to the subscriber channel in order. It exits as
// soon as the subscription is cancelled, even mid-send, so a consumer that
// stopped reading cannot leak this goroutine.
func (s *memSub) drain() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()

			select {
			case s.out <- evt:
			case <-s.done:
				return
			}
		}
	}
}

func (s *memSub) close() {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.qmu.Unlock()
	close(s.done)
}
