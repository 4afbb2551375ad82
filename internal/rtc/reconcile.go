package rtc

import (
	"sort"

	"github.com/petervdpas/bubbles/internal/signal"
)

// Diff computes the reconciliation between the roster the store reports and
// the entries the manager holds, keyed by their current state. It is a pure
// function so the idempotence contract is checkable in isolation: applying
// the result and diffing again yields two empty lists.
//
// Terminal entries (failed, disconnected) count as absent for creation — the
// roster sweep is what replaces a dead transport while the peer is still in
// the room — but still count as present for closing, so a departed peer's
// dead entry is torn down rather than leaked.
//
// toCreate lists remote participants without a usable entry (never self);
// toClose lists entries whose participant is gone from the roster.
// Both are sorted for deterministic application order.
func Diff(selfID string, roster []signal.Participant, entries map[string]EntryState) (toCreate, toClose []string) {
	want := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		if p.ID == selfID {
			continue
		}
		want[p.ID] = struct{}{}
		st, ok := entries[p.ID]
		if !ok || st == StateFailed || st == StateDisconnected {
			toCreate = append(toCreate, p.ID)
		}
	}
	for id := range entries {
		if _, ok := want[id]; !ok {
			toClose = append(toClose, id)
		}
	}
	sort.Strings(toCreate)
	sort.Strings(toClose)
	return toCreate, toClose
}
