package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/bubbles/internal/identity"
	"github.com/petervdpas/bubbles/internal/store"
	"github.com/petervdpas/bubbles/internal/util"
)

// createRetries bounds room-code collision retries during CreateRoom.
const createRetries = 3

// Client is a session-scoped signaling client. Construct one per room entry
// and discard it on leave — it carries no process-global state.
type Client struct {
	store store.Store
	ident identity.Provider

	mu     sync.Mutex
	selfID string
	roomID string // "" when not in a room
}

// NewClient creates a signaling client over the given store and identity
// provider.
func NewClient(st store.Store, ident identity.Provider) *Client {
	return &Client{store: st, ident: ident}
}

// SelfID returns the local identity, or "" before the first sign-in.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// CurrentRoom returns the joined room id, or "" when not in a room.
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// signIn establishes the local identity if not already done.
func (c *Client) signIn(ctx context.Context) (string, error) {
	id, err := c.ident.SignIn(ctx)
	if err != nil {
		return "", &AuthenticationError{Err: err}
	}
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
	return id, nil
}

// CreateRoom writes a new room record and registers the caller as its host
// participant under hostName. The returned room is active and has exactly
// one participant.
func (c *Client) CreateRoom(ctx context.Context, name, hostName string, settings Settings) (*Room, error) {
	selfID, err := c.signIn(ctx)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Bubble"
	}
	hostName, nameErr := util.ValidateDisplayName(hostName)
	if nameErr != nil {
		hostName = "Host"
	}

	var room *Room
	for attempt := 0; attempt < createRetries; attempt++ {
		code := GenerateRoomCode()
		var existing Room
		err := c.store.Get(ctx, roomPath(code), &existing)
		if err == nil && existing.IsActive {
			log.Printf("SIGNAL: room code collision on %s, retrying", code)
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, &SignalingTransportError{Op: "lookup room", Err: err}
		}

		room = &Room{
			ID:        code,
			Name:      name,
			IsActive:  true,
			HostID:    selfID,
			Settings:  settings,
			CreatedAt: time.Now().UnixMilli(),
		}
		break
	}
	if room == nil {
		return nil, &SignalingTransportError{Op: "create room", Err: errors.New("room code space exhausted")}
	}

	if err := c.store.Put(ctx, roomPath(room.ID), room); err != nil {
		return nil, &SignalingTransportError{Op: "write room", Err: err}
	}

	host := &Participant{
		ID:       selfID,
		Name:     hostName,
		IsHost:   true,
		JoinedAt: time.Now().UnixMilli(),
	}
	if err := c.store.Put(ctx, participantPath(room.ID, selfID), host); err != nil {
		return nil, &SignalingTransportError{Op: "write host participant", Err: err}
	}

	c.mu.Lock()
	c.roomID = room.ID
	c.mu.Unlock()

	log.Printf("SIGNAL: created room %s (%q)", room.ID, room.Name)
	return room, nil
}

// JoinRoom adds the caller to an existing room. The code is case-normalized,
// so "abc123" joins "ABC123". Joining a room the caller is already in is a
// no-op that returns the current room record.
func (c *Client) JoinRoom(ctx context.Context, code, displayName string) (*Room, error) {
	selfID, err := c.signIn(ctx)
	if err != nil {
		return nil, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	displayName, nameErr := util.ValidateDisplayName(displayName)
	if nameErr != nil {
		displayName = "Guest"
	}

	var room Room
	if err := c.store.Get(ctx, roomPath(code), &room); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &RoomNotFoundError{Code: code}
		}
		return nil, &SignalingTransportError{Op: "lookup room", Err: err}
	}
	if !room.IsActive {
		return nil, &RoomNotFoundError{Code: code}
	}

	// No-op if already present — a reconnecting tab must not duplicate itself.
	var existing Participant
	err = c.store.Get(ctx, participantPath(code, selfID), &existing)
	switch {
	case err == nil:
		// already joined
	case errors.Is(err, store.ErrNotFound):
		p := &Participant{
			ID:       selfID,
			Name:     displayName,
			JoinedAt: time.Now().UnixMilli(),
		}
		if err := c.store.Put(ctx, participantPath(code, selfID), p); err != nil {
			return nil, &SignalingTransportError{Op: "write participant", Err: err}
		}
	default:
		return nil, &SignalingTransportError{Op: "lookup participant", Err: err}
	}

	c.mu.Lock()
	c.roomID = code
	c.mu.Unlock()

	log.Printf("SIGNAL: joined room %s as %q", code, displayName)
	return &room, nil
}

// LeaveRoom removes the caller's participant record and, when the roster
// empties, marks the room inactive. Idempotent and never fails loudly —
// teardown paths depend on it, so backend errors are only logged.
func (c *Client) LeaveRoom(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.roomID = ""
	c.mu.Unlock()

	if roomID == "" || selfID == "" {
		return
	}

	if err := c.store.Delete(ctx, participantPath(roomID, selfID)); err != nil {
		log.Printf("SIGNAL: leave %s: delete participant: %v", roomID, err)
	}

	// Drop our outbound mailbox records so a future rejoin starts clean.
	if records, err := c.store.List(ctx, signalingPrefix(roomID)); err == nil {
		for path := range records {
			if strings.HasPrefix(lastSegment(path), selfID+"_") {
				if err := c.store.Delete(ctx, path); err != nil {
					log.Printf("SIGNAL: leave %s: clear mailbox %s: %v", roomID, path, err)
				}
			}
		}
	} else {
		log.Printf("SIGNAL: leave %s: list mailbox: %v", roomID, err)
	}

	remaining, err := c.store.List(ctx, participantsPrefix(roomID))
	if err != nil {
		log.Printf("SIGNAL: leave %s: list roster: %v", roomID, err)
		return
	}
	if len(remaining) == 0 {
		if err := c.store.Update(ctx, roomPath(roomID), map[string]any{"isActive": false}); err != nil {
			log.Printf("SIGNAL: leave %s: deactivate room: %v", roomID, err)
		} else {
			log.Printf("SIGNAL: room %s is now inactive (last participant left)", roomID)
		}
	}
}

// UpdateMute mirrors the local mute state to the store for remote display.
// Best-effort: failures affect cosmetics, not audio, so they are only logged.
func (c *Client) UpdateMute(ctx context.Context, id string, muted bool) {
	roomID := c.CurrentRoom()
	if roomID == "" {
		return
	}
	if err := c.store.Update(ctx, participantPath(roomID, id), map[string]any{"isMuted": muted}); err != nil {
		log.Printf("SIGNAL: update mute for %s: %v", short(id), err)
	}
}

// UpdateSpeaking mirrors the best-effort speaking flag. Same policy as mute.
func (c *Client) UpdateSpeaking(ctx context.Context, id string, speaking bool) {
	roomID := c.CurrentRoom()
	if roomID == "" {
		return
	}
	if err := c.store.Update(ctx, participantPath(roomID, id), map[string]any{"isSpeaking": speaking}); err != nil {
		log.Printf("SIGNAL: update speaking for %s: %v", short(id), err)
	}
}

// PublishCaption writes a live transcription line for cross-participant
// display. Interim lines overwrite in place; finals bump seq.
func (c *Client) PublishCaption(ctx context.Context, cap *Caption) {
	roomID := c.CurrentRoom()
	if roomID == "" {
		return
	}
	if err := c.store.Put(ctx, captionPath(roomID, cap.UserID), cap); err != nil {
		log.Printf("SIGNAL: publish caption: %v", err)
	}
}

// SendOffer upserts the offer into the (fromID,toID) mailbox record.
func (c *Client) SendOffer(ctx context.Context, roomID, fromID, toID string, offer json.RawMessage) error {
	err := c.store.Update(ctx, signalingPath(roomID, fromID, toID), map[string]any{
		"fromId":    fromID,
		"toId":      toID,
		"offer":     offer,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return &SignalingTransportError{Op: "send offer", Err: err}
	}
	log.Printf("SIGNAL: offer %s → %s", short(fromID), short(toID))
	return nil
}

// SendAnswer upserts the answer into the (fromID,toID) mailbox record.
func (c *Client) SendAnswer(ctx context.Context, roomID, fromID, toID string, answer json.RawMessage) error {
	err := c.store.Update(ctx, signalingPath(roomID, fromID, toID), map[string]any{
		"fromId":    fromID,
		"toId":      toID,
		"answer":    answer,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return &SignalingTransportError{Op: "send answer", Err: err}
	}
	log.Printf("SIGNAL: answer %s → %s", short(fromID), short(toID))
	return nil
}

// SendIceCandidate appends one candidate to the (fromID,toID) mailbox record.
// Candidates are relayed individually as discovered — batching would delay
// connectivity. The sender is the record's only writer, so the
// read-modify-write append cannot race.
func (c *Client) SendIceCandidate(ctx context.Context, roomID, fromID, toID string, candidate json.RawMessage) error {
	path := signalingPath(roomID, fromID, toID)

	var rec SignalRecord
	if err := c.store.Get(ctx, path, &rec); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &SignalingTransportError{Op: "read mailbox", Err: err}
	}
	candidates := append(rec.IceCandidates, candidate)

	err := c.store.Update(ctx, path, map[string]any{
		"fromId":        fromID,
		"toId":          toID,
		"iceCandidates": candidates,
		"timestamp":     time.Now().UnixMilli(),
	})
	if err != nil {
		return &SignalingTransportError{Op: "send candidate", Err: err}
	}
	return nil
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// short shortens an id for log lines.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
