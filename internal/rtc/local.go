package rtc

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const opusClockRate = 48000

// LocalStream owns the microphone capture chain: one encoded opus reader
// feeding one TrackLocalStaticSample that every peer connection shares.
//
// Mute is a single atomic flag on the pump. Frames keep being read so the
// encoder stays warm, but muted frames are dropped instead of written — no
// renegotiation, no per-peer work, the remote side simply receives silence.
type LocalStream struct {
	track   *webrtc.TrackLocalStaticSample
	reader  mediadevices.EncodedReadCloser
	release func() // closes the capture tracks

	muted  atomic.Bool
	closed atomic.Bool
	done   chan struct{}
}

func newLocalStream(reader mediadevices.EncodedReadCloser, release func()) (*LocalStream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	}, "audio", "bubbles-mic")
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	s := &LocalStream{
		track:   track,
		reader:  reader,
		release: release,
		done:    make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Track returns the shared outbound track. Every peer connection adds this
// same track, so one encode pass serves the whole mesh.
func (s *LocalStream) Track() *webrtc.TrackLocalStaticSample { return s.track }

// SetMuted flips the outbound mute flag. Exactly one store per call,
// regardless of how many peers are connected.
func (s *LocalStream) SetMuted(muted bool) { s.muted.Store(muted) }

// Muted reports the current outbound mute flag.
func (s *LocalStream) Muted() bool { return s.muted.Load() }

// Close stops the pump and releases the capture device. Idempotent.
func (s *LocalStream) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.reader.Close()
	if s.release != nil {
		s.release()
	}
	<-s.done
}

// pump moves encoded opus frames from the capture reader to the shared track
// until the reader is closed.
func (s *LocalStream) pump() {
	defer close(s.done)
	for {
		buf, rel, err := s.reader.Read()
		if err != nil {
			if !s.closed.Load() {
				log.Printf("MEDIA: mic reader stopped: %v", err)
			}
			return
		}
		if s.muted.Load() {
			if rel != nil {
				rel()
			}
			continue
		}
		dur := 20 * time.Millisecond
		if buf.Samples > 0 {
			dur = time.Duration(buf.Samples) * time.Second / opusClockRate
		}
		werr := s.track.WriteSample(media.Sample{Data: buf.Data, Duration: dur})
		if rel != nil {
			rel()
		}
		if werr != nil {
			log.Printf("MEDIA: write sample: %v", werr)
		}
	}
}
