package rtc

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// oggRecorder writes one remote participant's opus stream to an .ogg file.
// Best-effort: a write error disables the recorder but never the call.
type oggRecorder struct {
	w      *oggwriter.OggWriter
	path   string
	broken bool
}

func newOggRecorder(dir, peerID string) (*oggRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.ogg", time.Now().Format("20060102-150405"), short(peerID)))
	w, err := oggwriter.New(path, opusClockRate, 2)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	log.Printf("RTC [%s]: recording to %s", short(peerID), path)
	return &oggRecorder{w: w, path: path}, nil
}

func (r *oggRecorder) write(pkt *rtp.Packet) {
	if r.broken {
		return
	}
	if err := r.w.WriteRTP(pkt); err != nil {
		log.Printf("RECORD: write %s: %v", r.path, err)
		r.broken = true
	}
}

func (r *oggRecorder) close() {
	if err := r.w.Close(); err != nil {
		log.Printf("RECORD: close %s: %v", r.path, err)
	}
}
