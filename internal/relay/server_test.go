package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/petervdpas/bubbles/internal/store"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := New("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func TestHealthz(t *testing.T) {
	srv := startServer(t)

	url := "http://" + srv.ln.Addr().String() + "/healthz"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)

	client, err := store.Dial(ctx, srv.URL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	type doc struct {
		Name string `json:"name"`
	}
	if err := client.Put(ctx, "rooms/A1", doc{Name: "standup"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got doc
	if err := client.Get(ctx, "rooms/A1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "standup" {
		t.Fatalf("Get = %+v", got)
	}

	if err := client.Update(ctx, "rooms/A1", map[string]any{"name": "retro"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := client.Get(ctx, "rooms/A1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "retro" {
		t.Fatalf("after update = %+v", got)
	}

	if err := client.Get(ctx, "rooms/NOPE", &got); err != store.ErrNotFound {
		t.Fatalf("absent Get = %v, want ErrNotFound", err)
	}

	if err := client.Delete(ctx, "rooms/A1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := client.Delete(ctx, "rooms/A1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestEventsCrossClients(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)

	alice, err := store.Dial(ctx, srv.URL())
	if err != nil {
		t.Fatalf("Dial alice: %v", err)
	}
	defer alice.Close()

	bob, err := store.Dial(ctx, srv.URL())
	if err != nil {
		t.Fatalf("Dial bob: %v", err)
	}
	defer bob.Close()

	// Pre-existing data is replayed to a late subscriber.
	if err := alice.Put(ctx, "rooms/A1/participants/alice", map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	events, cancel := bob.Subscribe("rooms/A1/participants")
	defer cancel()

	evt := recvEvent(t, events)
	if evt.Type != store.EventAdded || evt.Path != "rooms/A1/participants/alice" {
		t.Fatalf("replay = %+v", evt)
	}

	// A write by one client reaches the other's subscription.
	if err := alice.Put(ctx, "rooms/A1/participants/carol", map[string]any{"name": "Carol"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	evt = recvEvent(t, events)
	if evt.Type != store.EventAdded || evt.Path != "rooms/A1/participants/carol" {
		t.Fatalf("live event = %+v", evt)
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(evt.Doc, &p); err != nil || p.Name != "Carol" {
		t.Fatalf("event doc = %s (%v)", evt.Doc, err)
	}

	if err := alice.Delete(ctx, "rooms/A1/participants/alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	evt = recvEvent(t, events)
	if evt.Type != store.EventRemoved || evt.Path != "rooms/A1/participants/alice" {
		t.Fatalf("remove event = %+v", evt)
	}
}

func TestListAcrossClients(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)

	client, err := store.Dial(ctx, srv.URL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for _, p := range []string{"rooms/A1/signaling/a_b", "rooms/A1/signaling/b_a", "rooms/A2/signaling/x_y"} {
		if err := client.Put(ctx, p, map[string]any{"path": p}); err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
	}

	docs, err := client.List(ctx, "rooms/A1/signaling")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("List = %d docs, want 2", len(docs))
	}
}

func recvEvent(t *testing.T, ch <-chan store.Event) store.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return store.Event{}
}
