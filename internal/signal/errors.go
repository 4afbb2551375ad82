package signal

import "fmt"

// AuthenticationError means no identity could be established. Fatal to room
// creation and joining.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RoomNotFoundError means the join target does not exist or is no longer
// active. User-correctable — surfaced as a retry prompt.
type RoomNotFoundError struct {
	Code string
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %q not found or inactive", e.Code)
}

// SignalingTransportError wraps a store read/write failure. Fatal for room
// entry; swallowed and logged for best-effort status updates and teardown.
type SignalingTransportError struct {
	Op  string
	Err error
}

func (e *SignalingTransportError) Error() string {
	return fmt.Sprintf("signaling transport: %s: %v", e.Op, e.Err)
}

func (e *SignalingTransportError) Unwrap() error { return e.Err }
