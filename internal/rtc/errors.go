package rtc

import "fmt"

// MediaAccessError means microphone capture could not be established.
// Callers degrade to a muted, receive-only session rather than aborting.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// PeerNegotiationError wraps a failed offer/answer/ICE step for one peer.
// Isolated to that peer — the rest of the mesh is unaffected.
type PeerNegotiationError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *PeerNegotiationError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *PeerNegotiationError) Unwrap() error { return e.Err }
