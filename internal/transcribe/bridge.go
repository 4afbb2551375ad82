package transcribe

import (
	"context"
	"log"
	"time"

	"github.com/petervdpas/bubbles/internal/signal"
)

// Segment is one recognition hypothesis for the local microphone. Interim
// segments revise the current line in place; a final segment closes it.
type Segment struct {
	Text  string
	Final bool
}

// Engine is a speech recognizer. The concrete engine is an external
// capability (platform service or sidecar); this package only consumes its
// segment stream.
type Engine interface {
	// Segments delivers hypotheses in order. The channel closes when the
	// engine stops.
	Segments() <-chan Segment
	Close() error
}

// Publisher pushes one caption line to the room. Satisfied by the signaling
// client.
type Publisher interface {
	PublishCaption(ctx context.Context, cap *signal.Caption)
}

// Bridge relays engine segments into the shared caption record and appends
// finalized lines to the local transcript log.
type Bridge struct {
	eng    Engine
	pub    Publisher
	store  *Store // optional
	roomID string
	userID string
	name   string
}

// NewBridge wires an engine to a room. store may be nil to skip local
// persistence.
func NewBridge(eng Engine, pub Publisher, store *Store, roomID, userID, name string) *Bridge {
	return &Bridge{eng: eng, pub: pub, store: store, roomID: roomID, userID: userID, name: name}
}

// Run relays segments until the context is done or the engine stops. Caption
// publication and persistence are both best-effort: a failing store never
// stalls the live captions.
func (b *Bridge) Run(ctx context.Context) {
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-b.eng.Segments():
			if !ok {
				return
			}
			if seg.Text == "" {
				continue
			}
			if seg.Final {
				seq++
			}
			b.pub.PublishCaption(ctx, &signal.Caption{
				UserID: b.userID,
				Name:   b.name,
				Text:   seg.Text,
				Final:  seg.Final,
				Seq:    seq,
				At:     time.Now().UnixMilli(),
			})
			if seg.Final && b.store != nil {
				if err := b.store.Append(ctx, Line{
					RoomID: b.roomID,
					UserID: b.userID,
					Name:   b.name,
					Text:   seg.Text,
					At:     time.Now(),
				}); err != nil {
					log.Printf("TRANSCRIBE: persist line: %v", err)
				}
			}
		}
	}
}
