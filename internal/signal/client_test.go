package signal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/petervdpas/bubbles/internal/store"
)

// fixedIdent is an identity provider that always signs in as the same id.
type fixedIdent struct{ id string }

func (f *fixedIdent) SignIn(context.Context) (string, error) { return f.id, nil }

func newTestClient(st store.Store, id string) *Client {
	return NewClient(st, &fixedIdent{id: id})
}

func TestCreateRoomThenSolo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	c := newTestClient(st, "host-1")
	room, err := c.CreateRoom(ctx, "standup", "Alice", Settings{PushToTalk: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !room.IsActive || room.HostID != "host-1" {
		t.Fatalf("room = %+v", room)
	}
	if len(room.ID) != 6 {
		t.Fatalf("room code %q, want 6 chars", room.ID)
	}
	if !room.Settings.PushToTalk {
		t.Fatal("settings lost on create")
	}

	docs, err := st.List(ctx, "rooms/"+room.ID+"/participants")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("roster = %d participants, want 1", len(docs))
	}
	var host Participant
	if err := st.Get(ctx, "rooms/"+room.ID+"/participants/host-1", &host); err != nil {
		t.Fatalf("Get host: %v", err)
	}
	if !host.IsHost || host.Name != "Alice" {
		t.Fatalf("host = %+v", host)
	}
}

func TestJoinRoomCaseFolded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "host-1")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	guest := newTestClient(st, "guest-1")
	joined, err := guest.JoinRoom(ctx, "  "+lower(room.ID)+" ", "Bob")
	if err != nil {
		t.Fatalf("JoinRoom lower-case: %v", err)
	}
	if joined.ID != room.ID {
		t.Fatalf("joined %s, want %s", joined.ID, room.ID)
	}

	// Double join stays a single roster entry.
	if _, err := guest.JoinRoom(ctx, room.ID, "Bob again"); err != nil {
		t.Fatalf("second JoinRoom: %v", err)
	}
	docs, _ := st.List(ctx, "rooms/"+room.ID+"/participants")
	if len(docs) != 2 {
		t.Fatalf("roster = %d, want 2", len(docs))
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	c := newTestClient(st, "guest-1")
	_, err := c.JoinRoom(ctx, "ZZZZZZ", "Bob")
	var nf *RoomNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want RoomNotFoundError", err)
	}
	if nf.Code != "ZZZZZZ" {
		t.Fatalf("code = %q", nf.Code)
	}
}

func TestJoinInactiveRoomNotFound(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "host-1")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	host.LeaveRoom(ctx) // last participant out deactivates the room

	guest := newTestClient(st, "guest-1")
	_, err = guest.JoinRoom(ctx, room.ID, "Bob")
	var nf *RoomNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want RoomNotFoundError for inactive room", err)
	}
}

func TestLeaveRoomCleansMailboxAndDeactivates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "aaa")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	guest := newTestClient(st, "bbb")
	if _, err := guest.JoinRoom(ctx, room.ID, "Bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	if err := host.SendOffer(ctx, room.ID, "aaa", "bbb", offer); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if err := guest.SendAnswer(ctx, room.ID, "bbb", "aaa", json.RawMessage(`{"type":"answer","sdp":"y"}`)); err != nil {
		t.Fatalf("SendAnswer: %v", err)
	}

	host.LeaveRoom(ctx)

	// Host's participant record and outbound mailbox are gone; the guest's
	// outbound record survives.
	if err := st.Get(ctx, "rooms/"+room.ID+"/participants/aaa", &Participant{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("host participant still present: %v", err)
	}
	records, _ := st.List(ctx, "rooms/"+room.ID+"/signaling")
	if _, ok := records["rooms/"+room.ID+"/signaling/aaa_bbb"]; ok {
		t.Fatal("host mailbox record not cleared")
	}
	if _, ok := records["rooms/"+room.ID+"/signaling/bbb_aaa"]; !ok {
		t.Fatal("guest mailbox record wrongly cleared")
	}

	var r Room
	if err := st.Get(ctx, "rooms/"+room.ID, &r); err != nil {
		t.Fatalf("Get room: %v", err)
	}
	if !r.IsActive {
		t.Fatal("room deactivated while a participant remains")
	}

	guest.LeaveRoom(ctx)
	if err := st.Get(ctx, "rooms/"+room.ID, &r); err != nil {
		t.Fatalf("Get room: %v", err)
	}
	if r.IsActive {
		t.Fatal("room still active after last participant left")
	}

	// Leaving twice is harmless.
	guest.LeaveRoom(ctx)
}

func TestSendIceCandidateAppends(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	c := newTestClient(st, "aaa")
	room, err := c.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	for i, cand := range []string{`{"candidate":"one"}`, `{"candidate":"two"}`} {
		if err := c.SendIceCandidate(ctx, room.ID, "aaa", "bbb", json.RawMessage(cand)); err != nil {
			t.Fatalf("SendIceCandidate %d: %v", i, err)
		}
	}

	var rec SignalRecord
	if err := st.Get(ctx, "rooms/"+room.ID+"/signaling/aaa_bbb", &rec); err != nil {
		t.Fatalf("Get mailbox: %v", err)
	}
	if len(rec.IceCandidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(rec.IceCandidates))
	}
	if rec.FromID != "aaa" || rec.ToID != "bbb" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestInboxDeliversOnlyNewMaterial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "aaa")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	guest := newTestClient(st, "bbb")
	if _, err := guest.JoinRoom(ctx, room.ID, "Bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	inbox, cancel := guest.Inbox(room.ID, "bbb")
	defer cancel()

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	if err := host.SendOffer(ctx, room.ID, "aaa", "bbb", offer); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}

	evt := recvInbox(t, inbox)
	if evt.From != "aaa" || len(evt.Offer) == 0 || len(evt.Candidates) != 0 {
		t.Fatalf("first delivery = %+v", evt)
	}

	// A trickled candidate arrives as a delta without re-delivering the offer.
	if err := host.SendIceCandidate(ctx, room.ID, "aaa", "bbb", json.RawMessage(`{"candidate":"one"}`)); err != nil {
		t.Fatalf("SendIceCandidate: %v", err)
	}
	evt = recvInbox(t, inbox)
	if len(evt.Offer) != 0 {
		t.Fatal("offer re-delivered with candidate delta")
	}
	if len(evt.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(evt.Candidates))
	}

	// Outbound traffic (bbb -> aaa) never loops back into bbb's inbox.
	if err := guest.SendAnswer(ctx, room.ID, "bbb", "aaa", json.RawMessage(`{"type":"answer","sdp":"y"}`)); err != nil {
		t.Fatalf("SendAnswer: %v", err)
	}
	select {
	case evt := <-inbox:
		t.Fatalf("self-addressed delivery %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestParticipantsRosterOrdering(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "zzz")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	events, cancel := host.Participants(room.ID)
	defer cancel()

	evt := recvRoster(t, events)
	if evt.Type != RosterJoined || evt.Participant.ID != "zzz" {
		t.Fatalf("replay event = %+v", evt)
	}

	guest := newTestClient(st, "aaa")
	if _, err := guest.JoinRoom(ctx, room.ID, "Bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	evt = recvRoster(t, events)
	if evt.Type != RosterJoined || evt.Participant.ID != "aaa" {
		t.Fatalf("join event = %+v", evt)
	}
	// Ordered by join time: host first despite the larger id.
	if len(evt.Roster) != 2 || evt.Roster[0].ID != "zzz" {
		t.Fatalf("roster = %+v", evt.Roster)
	}

	guest.LeaveRoom(ctx)
	evt = recvRoster(t, events)
	if evt.Type != RosterLeft || evt.Participant.ID != "aaa" {
		t.Fatalf("left event = %+v", evt)
	}
	if len(evt.Roster) != 1 {
		t.Fatalf("roster after leave = %+v", evt.Roster)
	}
}

func TestRoomUpdatesDeliversDeletionAsNil(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "aaa")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	updates, cancel := host.RoomUpdates(room.ID)
	defer cancel()

	if got := recvRoom(t, updates); got == nil || got.ID != room.ID {
		t.Fatalf("replay = %+v", got)
	}

	// Participant writes under the same prefix must not surface here.
	guest := newTestClient(st, "bbb")
	if _, err := guest.JoinRoom(ctx, room.ID, "Bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if err := st.Delete(ctx, "rooms/"+room.ID); err != nil {
		t.Fatalf("Delete room: %v", err)
	}
	if got := recvRoom(t, updates); got != nil {
		t.Fatalf("deletion delivered %+v, want nil", got)
	}
}

func recvInbox(t *testing.T, ch <-chan InboxEvent) InboxEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbox event")
	}
	return InboxEvent{}
}

func recvRoster(t *testing.T, ch <-chan RosterEvent) RosterEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster event")
	}
	return RosterEvent{}
}

func recvRoom(t *testing.T, ch <-chan *Room) *Room {
	t.Helper()
	select {
	case room := <-ch:
		return room
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room update")
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestRosterOrderingTiesHostFirst(t *testing.T) {
	// Joins landing in the same millisecond still order deterministically:
	// host first, then id.
	m := map[string]Participant{
		"aaa": {ID: "aaa", JoinedAt: 42},
		"zzz": {ID: "zzz", JoinedAt: 42, IsHost: true},
		"bbb": {ID: "bbb", JoinedAt: 42},
	}
	got := sortRoster(m)
	if len(got) != 3 || got[0].ID != "zzz" || got[1].ID != "aaa" || got[2].ID != "bbb" {
		t.Fatalf("roster = %+v", got)
	}
}

func TestInboxOfferStableAcrossRecordRewrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	host := newTestClient(st, "aaa")
	room, err := host.CreateRoom(ctx, "standup", "Alice", Settings{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	inbox, cancel := host.Inbox(room.ID, "bbb")
	defer cancel()

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	if err := host.SendOffer(ctx, room.ID, "aaa", "bbb", offer); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if evt := recvInbox(t, inbox); len(evt.Offer) == 0 {
		t.Fatalf("first delivery = %+v", evt)
	}

	// Every candidate append rewrites the whole mailbox record (the store
	// merges through a generic map, reordering keys). None of those
	// rewrites may surface the unchanged offer again.
	for i := 0; i < 3; i++ {
		cand := json.RawMessage(`{"candidate":"c"}`)
		if err := host.SendIceCandidate(ctx, room.ID, "aaa", "bbb", cand); err != nil {
			t.Fatalf("SendIceCandidate #%d: %v", i, err)
		}
		evt := recvInbox(t, inbox)
		if len(evt.Offer) != 0 {
			t.Fatalf("append #%d re-delivered the offer", i)
		}
		if len(evt.Candidates) != 1 {
			t.Fatalf("append #%d candidates = %d, want 1", i, len(evt.Candidates))
		}
	}
}
