// Package signal is the signaling client: room and participant lifecycle
// against the document store, plus the per-pair mailbox used to relay WebRTC
// offers, answers and ICE candidates between participants.
//
// Session descriptions and candidates are opaque JSON here; the rtc package
// owns their concrete types. Keeping the payloads opaque is what lets this
// package stay free of any WebRTC import.
package signal

import (
	"encoding/json"
	"fmt"
)

// Settings are the per-room feature toggles chosen at creation.
type Settings struct {
	PushToTalk    bool `json:"pushToTalk"`
	PresenterMode bool `json:"presenterMode"`
	Transcription bool `json:"transcription"`
}

// Room is the room record as stored at rooms/{id}.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	IsActive  bool     `json:"isActive"`
	HostID    string   `json:"hostId"`
	Settings  Settings `json:"settings"`
	CreatedAt int64    `json:"createdAt"` // unix millis
}

// Participant is the roster record at rooms/{id}/participants/{userId}.
type Participant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsHost      bool   `json:"isHost"`
	IsMuted     bool   `json:"isMuted"`
	IsPresenter bool   `json:"isPresenter"`
	IsSpeaking  bool   `json:"isSpeaking,omitempty"`
	JoinedAt    int64  `json:"joinedAt"` // unix millis
}

// SignalRecord is the directional mailbox record at
// rooms/{id}/signaling/{fromId}_{toId}. The sender owns it; the recipient
// only ever reads. Candidates accumulate append-only until teardown.
type SignalRecord struct {
	FromID        string            `json:"fromId"`
	ToID          string            `json:"toId"`
	Offer         json.RawMessage   `json:"offer,omitempty"`
	Answer        json.RawMessage   `json:"answer,omitempty"`
	IceCandidates []json.RawMessage `json:"iceCandidates,omitempty"`
	Timestamp     int64             `json:"timestamp"` // unix millis, last write
}

// Caption is a live transcription line at rooms/{id}/captions/{userId}.
// Interim lines are overwritten in place; finals bump the sequence.
type Caption struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	Final  bool   `json:"final"`
	Seq    int64  `json:"seq"`
	At     int64  `json:"at"` // unix millis
}

func roomPath(roomID string) string {
	return "rooms/" + roomID
}

func participantsPrefix(roomID string) string {
	return "rooms/" + roomID + "/participants"
}

func participantPath(roomID, userID string) string {
	return participantsPrefix(roomID) + "/" + userID
}

func signalingPrefix(roomID string) string {
	return "rooms/" + roomID + "/signaling"
}

func signalingPath(roomID, fromID, toID string) string {
	return fmt.Sprintf("%s/%s_%s", signalingPrefix(roomID), fromID, toID)
}

func captionsPrefix(roomID string) string {
	return "rooms/" + roomID + "/captions"
}

func captionPath(roomID, userID string) string {
	return captionsPrefix(roomID) + "/" + userID
}
