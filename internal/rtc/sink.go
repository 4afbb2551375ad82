package rtc

import (
	"log"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// consumeTrack drains one remote audio track: feeds the recorder when
// enabled, and derives speaking on/off from the audio-level header extension.
// Runs until the track errors out (peer connection closed).
func (m *Manager) consumeTrack(e *peerEntry, track *webrtc.TrackRemote) {
	var rec *oggRecorder
	if m.cfg.RecordDir != "" {
		var err error
		rec, err = newOggRecorder(m.cfg.RecordDir, e.peerID)
		if err != nil {
			log.Printf("RTC [%s]: recorder disabled: %v", short(e.peerID), err)
		}
	}
	if rec != nil {
		defer rec.close()
	}

	window := newLevelWindow()
	speaking := false
	defer func() {
		if speaking {
			m.notifySpeaking(e.peerID, false)
		}
	}()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if rec != nil {
			rec.write(pkt)
		}
		level, voice, ok := audioLevel(pkt)
		if !ok {
			continue
		}
		window.push(level, voice)
		if now := window.speaking(); now != speaking {
			speaking = now
			m.notifySpeaking(e.peerID, speaking)
		}
	}
}

// audioLevel extracts the ssrc-audio-level extension from a packet. Only that
// extension is negotiated for audio, so any one-byte extension payload is a
// level. Level is dBov attenuation: 0 loudest, 127 silence.
func audioLevel(pkt *rtp.Packet) (level uint8, voice bool, ok bool) {
	for _, id := range pkt.GetExtensionIDs() {
		payload := pkt.GetExtension(id)
		if len(payload) != 1 {
			continue
		}
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(payload); err != nil {
			continue
		}
		return ext.Level, ext.Voice, true
	}
	return 0, false, false
}
