package signal

import (
	"bytes"
	"encoding/json"
	"log"
	"sort"
	"strings"

	"github.com/petervdpas/bubbles/internal/store"
)

// RosterEventType classifies a roster change.
type RosterEventType string

const (
	RosterJoined  RosterEventType = "joined"
	RosterUpdated RosterEventType = "updated"
	RosterLeft    RosterEventType = "left"
)

// RosterEvent is one roster change plus the full roster after it, ordered by
// join time ascending (host first on ties, then id) so "first joined" display
// semantics are deterministic.
type RosterEvent struct {
	Type        RosterEventType
	Participant Participant // the changed participant; zero-valued Name etc. on left
	Roster      []Participant
}

// InboxEvent is one delivery from the signaling mailbox: whatever is new in
// a record addressed to the local identity. Candidates are delivered
// incrementally — only the ones not seen before — since ICE trickles in long
// after the initial offer/answer.
type InboxEvent struct {
	From       string
	Offer      json.RawMessage   // nil unless new/changed
	Answer     json.RawMessage   // nil unless new/changed
	Candidates []json.RawMessage // only the unseen tail
}

// Participants subscribes to the roster of roomID. Existing participants are
// replayed as joined events. The returned cancel stops delivery; no event
// arrives after it returns.
func (c *Client) Participants(roomID string) (<-chan RosterEvent, func()) {
	events, cancel := c.store.Subscribe(participantsPrefix(roomID))
	out := make(chan RosterEvent, 16)

	go func() {
		defer close(out)
		roster := make(map[string]Participant)

		for evt := range events {
			id := lastSegment(evt.Path)

			switch evt.Type {
			case store.EventRemoved:
				p, known := roster[id]
				if !known {
					continue
				}
				delete(roster, id)
				out <- RosterEvent{Type: RosterLeft, Participant: p, Roster: sortRoster(roster)}

			default:
				var p Participant
				if err := json.Unmarshal(evt.Doc, &p); err != nil {
					log.Printf("SIGNAL: bad participant doc at %s: %v", evt.Path, err)
					continue
				}
				typ := RosterUpdated
				if _, known := roster[id]; !known {
					typ = RosterJoined
				}
				roster[id] = p
				out <- RosterEvent{Type: typ, Participant: p, Roster: sortRoster(roster)}
			}
		}
	}()

	return out, cancel
}

// RoomUpdates subscribes to the room record itself. Every change delivers the
// current record; deletion delivers nil, which callers treat as "room closed,
// force exit".
func (c *Client) RoomUpdates(roomID string) (<-chan *Room, func()) {
	events, cancel := c.store.Subscribe(roomPath(roomID))
	out := make(chan *Room, 4)

	go func() {
		defer close(out)
		for evt := range events {
			// The prefix also matches subcollections; only the room doc counts.
			if evt.Path != roomPath(roomID) {
				continue
			}
			if evt.Type == store.EventRemoved {
				out <- nil
				continue
			}
			var room Room
			if err := json.Unmarshal(evt.Doc, &room); err != nil {
				log.Printf("SIGNAL: bad room doc at %s: %v", evt.Path, err)
				continue
			}
			out <- &room
		}
	}()

	return out, cancel
}

// Inbox subscribes to all mailbox records addressed to selfID in roomID.
// Each relevant change yields one InboxEvent carrying only what is new:
// a changed offer, a changed answer, and/or the unseen candidate tail.
// Self-addressed noise (fromID == selfID) is filtered out.
func (c *Client) Inbox(roomID, selfID string) (<-chan InboxEvent, func()) {
	events, cancel := c.store.Subscribe(signalingPrefix(roomID))
	out := make(chan InboxEvent, 32)

	type pairState struct {
		offer      json.RawMessage
		answer     json.RawMessage
		candidates int
	}

	go func() {
		defer close(out)
		seen := make(map[string]*pairState)

		for evt := range events {
			key := lastSegment(evt.Path)
			if !strings.HasSuffix(key, "_"+selfID) {
				continue
			}
			if evt.Type == store.EventRemoved {
				delete(seen, key)
				continue
			}

			var rec SignalRecord
			if err := json.Unmarshal(evt.Doc, &rec); err != nil {
				log.Printf("SIGNAL: bad mailbox doc at %s: %v", evt.Path, err)
				continue
			}
			if rec.FromID == selfID || rec.ToID != selfID {
				continue
			}

			st := seen[key]
			if st == nil {
				st = &pairState{}
				seen[key] = st
			}

			delta := InboxEvent{From: rec.FromID}
			dirty := false

			if len(rec.Offer) > 0 {
				if c := canonicalJSON(rec.Offer); !bytes.Equal(c, st.offer) {
					st.offer = c
					delta.Offer = rec.Offer
					dirty = true
				}
			}
			if len(rec.Answer) > 0 {
				if c := canonicalJSON(rec.Answer); !bytes.Equal(c, st.answer) {
					st.answer = c
					delta.Answer = rec.Answer
					dirty = true
				}
			}
			if len(rec.IceCandidates) > st.candidates {
				delta.Candidates = rec.IceCandidates[st.candidates:]
				st.candidates = len(rec.IceCandidates)
				dirty = true
			}

			if dirty {
				out <- delta
			}
		}
	}()

	return out, cancel
}

// Captions subscribes to the live caption lines of roomID, own lines
// included (the UI shows the local transcript the same way).
func (c *Client) Captions(roomID string) (<-chan Caption, func()) {
	events, cancel := c.store.Subscribe(captionsPrefix(roomID))
	out := make(chan Caption, 32)

	go func() {
		defer close(out)
		for evt := range events {
			if evt.Type == store.EventRemoved {
				continue
			}
			var cap Caption
			if err := json.Unmarshal(evt.Doc, &cap); err != nil {
				log.Printf("SIGNAL: bad caption doc at %s: %v", evt.Path, err)
				continue
			}
			out <- cap
		}
	}()

	return out, cancel
}

// canonicalJSON re-marshals raw through a generic value so change detection
// is stable across writers: the store's merge path rewrites whole records
// with sorted keys, and that rewrite must not read as a new offer or answer.
func canonicalJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

// sortRoster returns the roster ordered by join time ascending. Same-instant
// joins put the host first, then order by id, so the display order stays
// deterministic even at millisecond resolution.
func sortRoster(m map[string]Participant) []Participant {
	out := make([]Participant, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		if out[i].IsHost != out[j].IsHost {
			return out[i].IsHost
		}
		return out[i].ID < out[j].ID
	})
	return out
}
