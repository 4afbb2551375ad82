package rtc

// Speaking detection thresholds. Levels are dBov attenuation (0 loudest,
// 127 silence); a frame is voiced when the sender flags voice activity or
// the level is above the loudness floor. Start/stop hysteresis keeps the
// indicator from flickering on word gaps.
const (
	levelWindowSize = 25 // ~500 ms at 20 ms frames
	voicedLevelMax  = 55
	speakStartCount = 5
	speakStopCount  = 2
)

// levelWindow is a fixed ring of recent per-frame voice decisions.
type levelWindow struct {
	ring     [levelWindowSize]bool
	idx    int
	filled int
	voiced int
	active bool
}

func newLevelWindow() *levelWindow { return &levelWindow{} }

func (w *levelWindow) push(level uint8, voice bool) {
	frameVoiced := voice || level < voicedLevelMax
	if w.filled == len(w.ring) {
		if w.ring[w.idx] {
			w.voiced--
		}
	} else {
		w.filled++
	}
	w.ring[w.idx] = frameVoiced
	if frameVoiced {
		w.voiced++
	}
	w.idx = (w.idx + 1) % len(w.ring)
}

// speaking applies hysteresis: start above speakStartCount voiced frames,
// stop when the window drops below speakStopCount.
func (w *levelWindow) speaking() bool {
	if w.active {
		if w.voiced < speakStopCount {
			w.active = false
		}
	} else {
		if w.voiced >= speakStartCount {
			w.active = true
		}
	}
	return w.active
}
