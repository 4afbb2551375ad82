// Package rtc maintains the full mesh of WebRTC audio connections: one Pion
// PeerConnection per remote participant, driven by roster sweeps and by the
// signaling mailbox. It is designed to be maximally standalone — it imports
// Pion libraries, the signal event types, and stdlib. Coupling to the rest of
// bubbles is via the Signaler interface only.
package rtc

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bubbles/internal/signal"
)

// Signaler is the only surface the rtc package needs from the signaling
// layer: relay one message to one peer, and subscribe to the inbound mailbox.
type Signaler interface {
	SendOffer(ctx context.Context, roomID, fromID, toID string, offer json.RawMessage) error
	SendAnswer(ctx context.Context, roomID, fromID, toID string, answer json.RawMessage) error
	SendIceCandidate(ctx context.Context, roomID, fromID, toID string, candidate json.RawMessage) error
	Inbox(roomID, selfID string) (<-chan signal.InboxEvent, func())
}

// Config carries the transport knobs the manager needs.
type Config struct {
	// ICEServers must include at least one TURN relay with credentials for
	// NAT traversal when direct connectivity fails.
	ICEServers []webrtc.ICEServer

	// RecordDir, when non-empty, enables per-peer ogg/opus recording of
	// remote audio under this directory.
	RecordDir string
}

// EntryState is the lifecycle state of one peer entry.
type EntryState string

const (
	// StateWaiting: entry exists but this side lost the offer tie-break and
	// is waiting for the remote offer.
	StateWaiting EntryState = "waiting"
	// StateConnecting: offer sent (or answered), awaiting transport.
	StateConnecting   EntryState = "connecting"
	StateConnected    EntryState = "connected"
	StateDisconnected EntryState = "disconnected"
	StateFailed       EntryState = "failed"
)

// ConnStats is a best-effort transport quality snapshot for one peer, fed by
// the RTCP receiver reports the remote side sends about our outbound audio.
type ConnStats struct {
	FractionLost float64 // 0..1, most recent report
	Jitter       uint32  // RTP timestamp units
	RTTMillis    int64   // estimated, 0 when unknown
}

// shouldOffer is the glare tie-break: the lexicographically smaller
// identifier always offers, so two peers can never offer to each other
// simultaneously.
func shouldOffer(selfID, peerID string) bool {
	return selfID < peerID
}
