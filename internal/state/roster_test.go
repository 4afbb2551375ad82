package state

import (
	"testing"
	"time"

	"github.com/petervdpas/bubbles/internal/signal"
)

func recv(t *testing.T, ch chan RoomEvent) RoomEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for table event")
	}
	return RoomEvent{}
}

func TestUpsertPreservesLocalFields(t *testing.T) {
	tbl := NewRoomTable()
	tbl.Upsert(signal.Participant{ID: "u1", Name: "Alice"})
	tbl.SetConn("u1", ConnConnected)
	tbl.SetVolume("u1", 40)

	// A roster refresh must not reset connection state or volume.
	tbl.Upsert(signal.Participant{ID: "u1", Name: "Alice", IsMuted: true})

	p, ok := tbl.Get("u1")
	if !ok {
		t.Fatal("peer missing")
	}
	if p.Conn != ConnConnected || p.Volume != 40 {
		t.Fatalf("local fields lost: %+v", p)
	}
	if !p.IsMuted {
		t.Fatal("roster update lost")
	}
}

func TestSetConnDedupes(t *testing.T) {
	tbl := NewRoomTable()
	tbl.Upsert(signal.Participant{ID: "u1"})

	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.SetConn("u1", ConnConnecting)
	evt := recv(t, ch)
	if evt.Type != "update" || evt.Peer.Conn != ConnConnecting {
		t.Fatalf("event = %+v", evt)
	}

	// Same state again: no event.
	tbl.SetConn("u1", ConnConnecting)
	select {
	case evt := <-ch:
		t.Fatalf("duplicate state event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoveUnknownIsSilent(t *testing.T) {
	tbl := NewRoomTable()
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.Remove("ghost")
	select {
	case evt := <-ch:
		t.Fatalf("event for unknown peer: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := NewRoomTable()
	tbl.Upsert(signal.Participant{ID: "u1"})

	snap := tbl.Snapshot()
	delete(snap, "u1")

	if _, ok := tbl.Get("u1"); !ok {
		t.Fatal("mutating the snapshot reached the table")
	}
}

func TestRoomRecord(t *testing.T) {
	tbl := NewRoomTable()
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.SetRoom(&signal.Room{ID: "A1", Name: "standup"})
	evt := recv(t, ch)
	if evt.Type != "room" || evt.Room == nil || evt.Room.ID != "A1" {
		t.Fatalf("event = %+v", evt)
	}
	if r := tbl.Room(); r == nil || r.ID != "A1" {
		t.Fatalf("Room() = %+v", r)
	}

	tbl.SetRoom(nil)
	evt = recv(t, ch)
	if evt.Type != "room" || evt.Room != nil {
		t.Fatalf("close event = %+v", evt)
	}
}
