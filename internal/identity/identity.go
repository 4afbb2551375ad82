// Package identity abstracts the anonymous identity provider. A session
// identifier is stable for the lifetime of one process (the browser-tab
// equivalent) and is never persisted across runs.
package identity

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Provider yields a session identity for the local participant.
type Provider interface {
	// SignIn establishes (or returns the already-established) identity.
	SignIn(ctx context.Context) (string, error)
}

// Anonymous is the default Provider: a process-scoped random identifier.
type Anonymous struct {
	mu sync.Mutex
	id string
}

// NewAnonymous creates an Anonymous provider. The identifier is allocated
// lazily on first SignIn so callers that never join a room allocate nothing.
func NewAnonymous() *Anonymous {
	return &Anonymous{}
}

// SignIn returns the session identifier, allocating it on first use.
func (a *Anonymous) SignIn(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id == "" {
		a.id = uuid.NewString()
		log.Printf("IDENTITY: anonymous session %s", a.id[:8])
	}
	return a.id, nil
}
