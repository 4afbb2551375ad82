// Package ptt implements the push-to-talk controller: a small state machine
// combining the PTT toggle, the key press state, and the manual mute toggle
// into one effective outbound mute decision.
//
// Effective mute:
//
//	PTT enabled:  muted unless the key is held
//	PTT disabled: muted iff manual mute is on
//
// The controller owns nothing but the decision; the caller wires its output
// to the rtc manager and mirrors it to the roster record.
package ptt

import (
	"log"
	"sync"
)

// Controller derives the effective mute state. Safe for concurrent use; the
// output callback fires outside the lock, only on actual changes, in the
// order the changes were applied.
type Controller struct {
	mu         sync.Mutex
	enabled    bool
	pressed    bool
	manualMute bool
	key        string
	last       *bool // last reported effective state

	onChange func(muted bool)
}

// New creates a controller. onChange receives every effective mute
// transition, including the initial state on the first input.
func New(enabled bool, key string, onChange func(muted bool)) *Controller {
	return &Controller{enabled: enabled, key: key, onChange: onChange}
}

// Effective returns the current effective mute state.
func (c *Controller) Effective() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLocked()
}

func (c *Controller) effectiveLocked() bool {
	if c.enabled {
		return !c.pressed
	}
	return c.manualMute
}

// SetEnabled toggles push-to-talk mode. Disabling while the key is held
// releases it, so a later press of the old key cannot unmute.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	if c.enabled == enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled
	if !enabled {
		c.pressed = false
	}
	log.Printf("PTT: enabled=%v key=%q", enabled, c.key)
	c.reportLocked()
}

// Enabled reports whether push-to-talk mode is currently active.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetManualMute sets the toggle that applies while PTT is disabled.
func (c *Controller) SetManualMute(muted bool) {
	c.mu.Lock()
	c.manualMute = muted
	c.reportLocked()
}

// ManualMute returns the manual mute toggle (not the effective state).
func (c *Controller) ManualMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualMute
}

// Press handles a key-down event for the bound key. Ignored while PTT is
// disabled. Repeated key-down from auto-repeat is a no-op.
func (c *Controller) Press(key string) {
	c.mu.Lock()
	if !c.enabled || key != c.key || c.pressed {
		c.mu.Unlock()
		return
	}
	c.pressed = true
	c.reportLocked()
}

// Release handles a key-up event for the bound key.
func (c *Controller) Release(key string) {
	c.mu.Lock()
	if !c.enabled || key != c.key || !c.pressed {
		c.mu.Unlock()
		return
	}
	c.pressed = false
	c.reportLocked()
}

// Rebind swaps the bound key in one step. The held state does not carry
// over: a press of the old key after rebind has no effect, and the effective
// state drops back to muted until the new key is pressed.
func (c *Controller) Rebind(key string) {
	c.mu.Lock()
	if key == c.key {
		c.mu.Unlock()
		return
	}
	old := c.key
	c.key = key
	c.pressed = false
	log.Printf("PTT: rebound %q -> %q", old, key)
	c.reportLocked()
}

// Key returns the currently bound key.
func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// reportLocked fires onChange outside the lock when the effective state
// changed. Must be called with c.mu held; unlocks it.
func (c *Controller) reportLocked() {
	eff := c.effectiveLocked()
	changed := c.last == nil || *c.last != eff
	if changed {
		v := eff
		c.last = &v
	}
	fn := c.onChange
	c.mu.Unlock()
	if changed && fn != nil {
		fn(eff)
	}
}
