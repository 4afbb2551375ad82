package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// connectTimeout is how long an entry may sit in connecting/waiting before
// the watchdog declares it failed. Matches the failed ICE timeout so a peer
// that never answers does not hold a half-open entry forever.
const connectTimeout = 30 * time.Second

// peerEntry is the per-remote-participant connection record: one
// PeerConnection, its lifecycle state, and the candidates that arrived before
// the remote description did.
type peerEntry struct {
	peerID string
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	state     EntryState
	remoteSet bool
	pending   []json.RawMessage // candidates buffered until SetRemoteDescription
	watchdog  *time.Timer
	closed    bool

	volume atomic.Int32 // playback preference 0–100

	statsMu sync.Mutex
	stats   ConnStats
}

// newPeerEntry builds the PeerConnection for one remote participant and wires
// its callbacks into the manager. The shared local track is attached when
// capture succeeded; otherwise a recvonly transceiver keeps the SDP valid.
// Caller holds m.mu.
func (m *Manager) newPeerEntry(peerID string, initial EntryState) (*peerEntry, error) {
	api, err := m.webrtcAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	e := &peerEntry{peerID: peerID, pc: pc, state: initial}
	e.volume.Store(100)

	if m.local != nil {
		sender, err := pc.AddTrack(m.local.Track())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go m.readSenderReports(e, sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("RTC [%s]: AddTransceiver(audio) error: %v", short(peerID), err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Printf("RTC [%s]: marshal candidate: %v", short(peerID), err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.sig.SendIceCandidate(ctx, m.roomID, m.selfID, peerID, raw); err != nil {
			log.Printf("RTC [%s]: send candidate: %v", short(peerID), err)
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Printf("RTC [%s]: connection state %s", short(peerID), st)
		switch st {
		case webrtc.PeerConnectionStateConnected:
			e.stopWatchdog()
			m.setEntryState(e, StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			m.setEntryState(e, StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			e.stopWatchdog()
			m.setEntryState(e, StateFailed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("RTC [%s]: remote track %s (%s)", short(peerID), track.ID(), track.Codec().MimeType)
		go m.consumeTrack(e, track)
	})

	return e, nil
}

// setState transitions the entry state under its lock and reports the change.
// Terminal states stick: a late disconnected event never revives a failed or
// closed entry.
func (m *Manager) setEntryState(e *peerEntry, st EntryState) {
	e.mu.Lock()
	if e.closed || e.state == st || e.state == StateFailed {
		e.mu.Unlock()
		return
	}
	e.state = st
	e.mu.Unlock()
	m.notifyState(e.peerID, st)
}

// armWatchdog schedules the connect deadline. If the entry is still not
// connected when it fires, the entry is marked failed and its transport
// closed; a later roster sweep may retry with a fresh entry.
func (e *peerEntry) armWatchdog(m *Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.watchdog != nil {
		return
	}
	e.watchdog = time.AfterFunc(connectTimeout, func() {
		e.mu.Lock()
		expired := !e.closed && (e.state == StateConnecting || e.state == StateWaiting)
		e.mu.Unlock()
		if !expired {
			return
		}
		log.Printf("RTC [%s]: connect watchdog expired after %s", short(e.peerID), connectTimeout)
		m.setEntryState(e, StateFailed)
		_ = e.pc.Close()
	})
}

func (e *peerEntry) stopWatchdog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

// addCandidate applies a remote candidate, buffering it when the remote
// description has not been set yet. Buffered candidates are flushed by
// markRemoteSet.
func (e *peerEntry) addCandidate(raw json.RawMessage) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if !e.remoteSet {
		e.pending = append(e.pending, raw)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.applyCandidate(raw)
}

func (e *peerEntry) applyCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// markRemoteSet records that the remote description is in place and returns
// the buffered candidates for the caller to flush, preserving arrival order.
func (e *peerEntry) markRemoteSet() []json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	return pending
}

// close tears the entry down. Idempotent; buffered candidates are discarded.
func (e *peerEntry) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
	e.pending = nil
	e.mu.Unlock()
	_ = e.pc.Close()
}

func (e *peerEntry) currentState() EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *peerEntry) setStats(s ConnStats) {
	e.statsMu.Lock()
	e.stats = s
	e.statsMu.Unlock()
}

func (e *peerEntry) currentStats() ConnStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// short trims an id for log readability.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
