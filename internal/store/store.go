// Package store abstracts the real-time document store used as the signaling
// mailbox. Documents live at slash-separated paths ("rooms/AB12CD",
// "rooms/AB12CD/participants/<id>"); subscribers watch a path prefix and
// receive push events in FIFO order per subscription.
//
// Two implementations exist: Memory (in-process, also the relay server's
// backing tree) and Remote (websocket client against a relay).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// EventType classifies a document change.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// Event is one document change delivered to a subscriber.
// Doc is nil for EventRemoved.
type Event struct {
	Type EventType       `json:"type"`
	Path string          `json:"path"`
	Doc  json.RawMessage `json:"doc,omitempty"`
}

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("store: document not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the document-store surface the signaling client is written against.
type Store interface {
	// Put creates or replaces the document at path.
	Put(ctx context.Context, path string, doc any) error

	// Update merges fields into the document at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting an absent document is a no-op.
	Delete(ctx context.Context, path string) error

	// Get unmarshals the document at path into out. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string, out any) error

	// List returns all documents whose path is under prefix, keyed by path.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Subscribe watches prefix. Existing documents are replayed as EventAdded
	// before live changes. Events arrive in FIFO order; after cancel returns,
	// no further events are delivered and the channel is closed.
	Subscribe(prefix string) (<-chan Event, func())

	Close() error
}

// underPrefix reports whether path is prefix itself or a descendant of it.
func underPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
