//go:build linux

package rtc

import (
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// captureOpus opens the default microphone via pion/mediadevices (malgo on
// Linux) and returns an encoded opus reader plus a release func that closes
// the capture tracks. The caller owns both.
func captureOpus() (mediadevices.EncodedReadCloser, func(), error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("opus params: %w", err)
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Printf("MEDIA: no media devices found by pion/mediadevices")
	} else {
		for _, d := range devices {
			log.Printf("MEDIA: device — kind=%v label=%q", d.Kind, d.Label)
		}
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(opusClockRate)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("GetUserMedia: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, nil, fmt.Errorf("GetUserMedia returned no audio tracks")
	}
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Printf("MEDIA: local track ended: %v", err)
			}
		})
	}

	reader, err := tracks[0].NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		for _, t := range tracks {
			t.Close()
		}
		return nil, nil, fmt.Errorf("opus reader: %w", err)
	}

	release := func() {
		for _, t := range tracks {
			t.Close()
		}
	}
	log.Printf("MEDIA: microphone captured — %d track(s)", len(tracks))
	return reader, release, nil
}
