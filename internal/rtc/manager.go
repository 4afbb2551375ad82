package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bubbles/internal/signal"
)

// audioLevelURI is the RTP header extension carrying the sender-measured
// audio level of each frame. Negotiating it lets us detect speaking without
// decoding opus.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// Manager owns the peer connection mesh for one room session. It is
// session-scoped: create one per joined room, Cleanup on leave, never reuse.
type Manager struct {
	sig Signaler
	cfg Config

	// Bound once by InitializeRoom before any entry exists, read-only after.
	roomID string
	selfID string

	apiOnce sync.Once
	api     *webrtc.API
	apiErr  error

	mu          sync.Mutex
	entries     map[string]*peerEntry
	local       *LocalStream
	inboxCancel func()
	closed      bool

	cbMu       sync.RWMutex
	onState    func(peerID string, state EntryState)
	onSpeaking func(peerID string, speaking bool)
}

// New creates a manager bound to a signaling transport. InitializeRoom must
// be called before any connection can be made.
func New(sig Signaler, cfg Config) *Manager {
	return &Manager{
		sig:     sig,
		cfg:     cfg,
		entries: make(map[string]*peerEntry),
	}
}

// OnStateChange registers the callback fired on every entry state transition.
// Must be set before InitializeRoom.
func (m *Manager) OnStateChange(fn func(peerID string, state EntryState)) {
	m.cbMu.Lock()
	m.onState = fn
	m.cbMu.Unlock()
}

// OnSpeaking registers the callback fired when a remote participant starts or
// stops speaking, as inferred from the audio-level RTP extension.
func (m *Manager) OnSpeaking(fn func(peerID string, speaking bool)) {
	m.cbMu.Lock()
	m.onSpeaking = fn
	m.cbMu.Unlock()
}

func (m *Manager) notifyState(peerID string, st EntryState) {
	m.cbMu.RLock()
	fn := m.onState
	m.cbMu.RUnlock()
	if fn != nil {
		fn(peerID, st)
	}
}

func (m *Manager) notifySpeaking(peerID string, speaking bool) {
	m.cbMu.RLock()
	fn := m.onSpeaking
	m.cbMu.RUnlock()
	if fn != nil {
		fn(peerID, speaking)
	}
}

// InitializeLocalStream opens the microphone and starts the shared outbound
// opus track. A capture failure returns MediaAccessError and leaves the
// manager usable in receive-only mode; calling again after success is a no-op.
func (m *Manager) InitializeLocalStream() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("manager closed")
	}
	if m.local != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	reader, release, err := captureOpus()
	if err != nil {
		log.Printf("RTC: microphone unavailable, receive-only: %v", err)
		return &MediaAccessError{Err: err}
	}
	local, err := newLocalStream(reader, release)
	if err != nil {
		release()
		return &MediaAccessError{Err: err}
	}

	m.mu.Lock()
	if m.closed || m.local != nil {
		m.mu.Unlock()
		local.Close()
		return nil
	}
	m.local = local
	m.mu.Unlock()
	return nil
}

// InitializeRoom binds the manager to a room and starts dispatching the
// inbound signaling mailbox. Exactly once per manager.
func (m *Manager) InitializeRoom(roomID, selfID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("manager closed")
	}
	if m.roomID != "" {
		return fmt.Errorf("already bound to room %s", m.roomID)
	}
	m.roomID = roomID
	m.selfID = selfID

	inbox, cancel := m.sig.Inbox(roomID, selfID)
	m.inboxCancel = cancel
	go m.dispatchLoop(inbox)

	log.Printf("RTC: bound to room %s as %s", roomID, short(selfID))
	return nil
}

// dispatchLoop routes mailbox deliveries to the negotiation handlers. Offers
// are processed before candidates from the same delivery so the buffering
// path only has to cover cross-delivery reordering.
func (m *Manager) dispatchLoop(inbox <-chan signal.InboxEvent) {
	for evt := range inbox {
		if len(evt.Offer) > 0 {
			if err := m.HandleOffer(evt.From, evt.Offer); err != nil {
				log.Printf("RTC [%s]: %v", short(evt.From), err)
			}
		}
		if len(evt.Answer) > 0 {
			if err := m.HandleAnswer(evt.From, evt.Answer); err != nil {
				log.Printf("RTC [%s]: %v", short(evt.From), err)
			}
		}
		for _, cand := range evt.Candidates {
			if err := m.HandleIceCandidate(evt.From, cand); err != nil {
				log.Printf("RTC [%s]: %v", short(evt.From), err)
			}
		}
	}
}

// ConnectToParticipant ensures an entry exists for peerID. Idempotent: an
// existing entry in any non-terminal state is left untouched. The offer is
// only sent from the side holding the tie-break; the other side creates the
// entry in waiting state and answers when the offer arrives.
func (m *Manager) ConnectToParticipant(ctx context.Context, peerID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("manager closed")
	}
	if m.roomID == "" {
		m.mu.Unlock()
		return fmt.Errorf("not bound to a room")
	}
	if peerID == m.selfID {
		m.mu.Unlock()
		return nil
	}
	if e, ok := m.entries[peerID]; ok {
		st := e.currentState()
		if st != StateFailed && st != StateDisconnected {
			m.mu.Unlock()
			return nil
		}
		// Terminal entry: replace it so reconnection gets fresh transport.
		delete(m.entries, peerID)
		m.mu.Unlock()
		e.close()
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return fmt.Errorf("manager closed")
		}
		// An inbound offer or a concurrent sweep may have installed a fresh
		// entry while the lock was dropped; keep it instead of clobbering.
		if _, ok := m.entries[peerID]; ok {
			m.mu.Unlock()
			return nil
		}
	}

	initial := StateWaiting
	if shouldOffer(m.selfID, peerID) {
		initial = StateConnecting
	}
	e, err := m.newPeerEntry(peerID, initial)
	if err != nil {
		m.mu.Unlock()
		return &PeerNegotiationError{PeerID: peerID, Op: "create", Err: err}
	}
	m.entries[peerID] = e
	m.mu.Unlock()

	e.armWatchdog(m)
	m.notifyState(peerID, initial)

	if initial == StateWaiting {
		log.Printf("RTC [%s]: awaiting offer (remote holds tie-break)", short(peerID))
		return nil
	}
	if err := m.sendOffer(ctx, e); err != nil {
		m.dropEntry(peerID)
		return err
	}
	return nil
}

// sendOffer runs the offerer half of negotiation on a fresh entry.
func (m *Manager) sendOffer(ctx context.Context, e *peerEntry) error {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return &PeerNegotiationError{PeerID: e.peerID, Op: "create offer", Err: err}
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return &PeerNegotiationError{PeerID: e.peerID, Op: "set local description", Err: err}
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return &PeerNegotiationError{PeerID: e.peerID, Op: "encode offer", Err: err}
	}
	if err := m.sig.SendOffer(ctx, m.roomID, m.selfID, e.peerID, raw); err != nil {
		return &PeerNegotiationError{PeerID: e.peerID, Op: "send offer", Err: err}
	}
	log.Printf("RTC [%s]: offer sent", short(e.peerID))
	return nil
}

// HandleOffer answers an inbound offer, creating the entry first when the
// roster sweep has not seen the peer yet. An offer arriving while this side
// holds the tie-break is glare noise and is ignored.
func (m *Manager) HandleOffer(from string, raw json.RawMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if shouldOffer(m.selfID, from) {
		m.mu.Unlock()
		log.Printf("RTC [%s]: ignoring offer — local side holds the tie-break", short(from))
		return nil
	}
	e, ok := m.entries[from]
	if !ok {
		var err error
		e, err = m.newPeerEntry(from, StateConnecting)
		if err != nil {
			m.mu.Unlock()
			return &PeerNegotiationError{PeerID: from, Op: "create", Err: err}
		}
		m.entries[from] = e
		m.mu.Unlock()
		e.armWatchdog(m)
		m.notifyState(from, StateConnecting)
	} else {
		m.mu.Unlock()
		m.setEntryState(e, StateConnecting)
	}

	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sdp); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "decode offer", Err: err}
	}
	if err := e.pc.SetRemoteDescription(sdp); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "set remote offer", Err: err}
	}
	m.flushCandidates(e)

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "create answer", Err: err}
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "set local answer", Err: err}
	}
	rawAnswer, err := json.Marshal(answer)
	if err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "encode answer", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.sig.SendAnswer(ctx, m.roomID, m.selfID, from, rawAnswer); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "send answer", Err: err}
	}
	log.Printf("RTC [%s]: answer sent", short(from))
	return nil
}

// HandleAnswer applies an inbound answer to the entry that offered. An
// answer for an unknown peer (entry torn down meanwhile) is dropped.
func (m *Manager) HandleAnswer(from string, raw json.RawMessage) error {
	m.mu.Lock()
	e, ok := m.entries[from]
	m.mu.Unlock()
	if !ok {
		log.Printf("RTC [%s]: answer for unknown peer, dropped", short(from))
		return nil
	}

	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sdp); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "decode answer", Err: err}
	}
	if err := e.pc.SetRemoteDescription(sdp); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "set remote answer", Err: err}
	}
	m.flushCandidates(e)
	return nil
}

// HandleIceCandidate applies or buffers one trickled candidate. Candidates
// for unknown peers are dropped: the mailbox orders the offer first, so an
// unknown peer here means the entry was already torn down.
func (m *Manager) HandleIceCandidate(from string, raw json.RawMessage) error {
	m.mu.Lock()
	e, ok := m.entries[from]
	m.mu.Unlock()
	if !ok {
		log.Printf("RTC [%s]: candidate for unknown peer, dropped", short(from))
		return nil
	}
	if err := e.addCandidate(raw); err != nil {
		return &PeerNegotiationError{PeerID: from, Op: "add candidate", Err: err}
	}
	return nil
}

// flushCandidates applies everything buffered before the remote description
// arrived, in arrival order.
func (m *Manager) flushCandidates(e *peerEntry) {
	for _, raw := range e.markRemoteSet() {
		if err := e.applyCandidate(raw); err != nil {
			log.Printf("RTC [%s]: flush candidate: %v", short(e.peerID), err)
		}
	}
}

// Reconcile diffs the roster against the current entries and applies the
// result: connect to newcomers, tear down entries for the departed. Safe to
// call on every roster event; a no-op diff does nothing.
func (m *Manager) Reconcile(ctx context.Context, roster []signal.Participant) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	existing := make(map[string]EntryState, len(m.entries))
	for id, e := range m.entries {
		existing[id] = e.currentState()
	}
	selfID := m.selfID
	m.mu.Unlock()

	toCreate, toClose := Diff(selfID, roster, existing)
	for _, id := range toClose {
		m.dropEntry(id)
	}
	for _, id := range toCreate {
		if err := m.ConnectToParticipant(ctx, id); err != nil {
			log.Printf("RTC [%s]: connect: %v", short(id), err)
		}
	}
}

// dropEntry removes and closes one entry. No-op for unknown peers.
func (m *Manager) dropEntry(peerID string) {
	m.mu.Lock()
	e, ok := m.entries[peerID]
	if ok {
		delete(m.entries, peerID)
	}
	m.mu.Unlock()
	if ok {
		e.close()
		log.Printf("RTC [%s]: entry closed", short(peerID))
	}
}

// SetMuted flips outbound mute. One atomic store on the shared pump; peer
// connections and SDP are untouched. No-op in receive-only mode.
func (m *Manager) SetMuted(muted bool) {
	if local := m.localStream(); local != nil {
		local.SetMuted(muted)
	}
}

// Muted reports the outbound mute flag. Receive-only sessions report true.
func (m *Manager) Muted() bool {
	local := m.localStream()
	if local == nil {
		return true
	}
	return local.Muted()
}

// SetParticipantVolume records the local playback preference for one peer,
// clamped to 0–100. Purely local; nothing is signaled.
func (m *Manager) SetParticipantVolume(peerID string, volume int) {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	m.mu.Lock()
	e, ok := m.entries[peerID]
	m.mu.Unlock()
	if ok {
		e.volume.Store(int32(volume))
	}
}

// ParticipantVolume returns the playback preference for one peer.
func (m *Manager) ParticipantVolume(peerID string) (int, bool) {
	m.mu.Lock()
	e, ok := m.entries[peerID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return int(e.volume.Load()), true
}

// Stats returns the latest transport report for one peer.
func (m *Manager) Stats(peerID string) (ConnStats, bool) {
	m.mu.Lock()
	e, ok := m.entries[peerID]
	m.mu.Unlock()
	if !ok {
		return ConnStats{}, false
	}
	return e.currentStats(), true
}

// States snapshots the entry states, keyed by peer id.
func (m *Manager) States() map[string]EntryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]EntryState, len(m.entries))
	for id, e := range m.entries {
		out[id] = e.currentState()
	}
	return out
}

// Cleanup tears the session down in strict order: stop listening to the
// mailbox, close every peer connection, then release the microphone.
// Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.inboxCancel
	m.inboxCancel = nil
	entries := m.entries
	m.entries = make(map[string]*peerEntry)
	local := m.local
	m.local = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, e := range entries {
		e.close()
	}
	if local != nil {
		local.Close()
	}
	log.Printf("RTC: session cleaned up (%d entries)", len(entries))
}

func (m *Manager) localStream() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// webrtcAPI lazily builds the shared API: default codecs (opus included),
// the audio-level extension for speaking detection, default interceptors,
// and ICE timeouts generous enough that a brief relay hiccup does not
// immediately terminate the call.
func (m *Manager) webrtcAPI() (*webrtc.API, error) {
	m.apiOnce.Do(func() {
		mediaEngine := &webrtc.MediaEngine{}
		if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			m.apiErr = fmt.Errorf("register codecs: %w", err)
			return
		}
		if err := mediaEngine.RegisterHeaderExtension(
			webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI},
			webrtc.RTPCodecTypeAudio,
		); err != nil {
			m.apiErr = fmt.Errorf("register audio-level extension: %w", err)
			return
		}

		interceptorRegistry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
			m.apiErr = fmt.Errorf("register interceptors: %w", err)
			return
		}

		se := webrtc.SettingEngine{}
		se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

		m.api = webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		)
	})
	return m.api, m.apiErr
}
