// Package state holds the local, observable view of the current room: the
// roster merged with per-peer connection status. The signaling layer writes
// into it, the UI layer subscribes to it.
package state

import (
	"sync"

	"github.com/petervdpas/bubbles/internal/signal"
)

// ConnState mirrors the rtc entry state for display purposes.
type ConnState string

const (
	ConnNone         ConnState = ""
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
)

// RoomPeer is one roster entry plus local connection status.
type RoomPeer struct {
	signal.Participant
	Conn   ConnState
	Volume int // playback volume 0–100 (local preference, not mirrored)
}

// RoomEvent notifies subscribers of a table change.
type RoomEvent struct {
	Type   string       `json:"type"` // "update" | "remove" | "room"
	PeerID string       `json:"peer_id,omitempty"`
	Peer   *RoomPeer    `json:"peer,omitempty"`
	Room   *signal.Room `json:"room,omitempty"`
}

// RoomTable tracks the participants of the current room.
type RoomTable struct {
	mu        sync.Mutex
	room      *signal.Room
	peers     map[string]RoomPeer
	listeners []chan RoomEvent
}

// NewRoomTable creates an empty table.
func NewRoomTable() *RoomTable {
	return &RoomTable{peers: map[string]RoomPeer{}}
}

// SetRoom records the current room document (nil when the room closed).
func (t *RoomTable) SetRoom(room *signal.Room) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.room = room
	t.notifyListeners(RoomEvent{Type: "room", Room: room})
}

// Room returns the last known room document.
func (t *RoomTable) Room() *signal.Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room
}

// Upsert merges a roster record, preserving local-only fields (connection
// state, volume) across participant updates.
func (t *RoomTable) Upsert(p signal.Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer := RoomPeer{Participant: p, Volume: 100}
	if existing, ok := t.peers[p.ID]; ok {
		peer.Conn = existing.Conn
		peer.Volume = existing.Volume
	}
	t.peers[p.ID] = peer
	t.notifyListeners(RoomEvent{Type: "update", PeerID: p.ID, Peer: &peer})
}

// Remove drops a participant.
func (t *RoomTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return
	}
	delete(t.peers, id)
	t.notifyListeners(RoomEvent{Type: "remove", PeerID: id})
}

// SetConn updates the connection state of one peer.
func (t *RoomTable) SetConn(id string, conn ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.peers[id]
	if !ok || peer.Conn == conn {
		return
	}
	peer.Conn = conn
	t.peers[id] = peer
	t.notifyListeners(RoomEvent{Type: "update", PeerID: id, Peer: &peer})
}

// SetVolume records the local playback preference for one peer.
func (t *RoomTable) SetVolume(id string, volume int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.peers[id]
	if !ok {
		return
	}
	peer.Volume = volume
	t.peers[id] = peer
	t.notifyListeners(RoomEvent{Type: "update", PeerID: id, Peer: &peer})
}

// Get returns one peer.
func (t *RoomTable) Get(id string) (RoomPeer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	return p, ok
}

// Snapshot returns a copy of the table.
func (t *RoomTable) Snapshot() map[string]RoomPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]RoomPeer, len(t.peers))
	for k, v := range t.peers {
		cp[k] = v
	}
	return cp
}

// Subscribe returns a channel of table events.
func (t *RoomTable) Subscribe() chan RoomEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan RoomEvent, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

// Unsubscribe closes and removes a subscription channel.
func (t *RoomTable) Unsubscribe(ch chan RoomEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *RoomTable) notifyListeners(evt RoomEvent) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
