package ptt

import "testing"

// collect records every reported effective state.
type collect struct{ states []bool }

func (c *collect) fn(muted bool) { c.states = append(c.states, muted) }

func TestEffectiveMatrix(t *testing.T) {
	t.Run("ptt disabled follows manual mute", func(t *testing.T) {
		c := New(false, "space", nil)
		if c.Effective() {
			t.Fatal("unmuted start expected with ptt off")
		}
		c.SetManualMute(true)
		if !c.Effective() {
			t.Fatal("manual mute ignored")
		}
		// Key events are inert while ptt is off.
		c.Press("space")
		if !c.Effective() {
			t.Fatal("press unmuted despite ptt off")
		}
	})

	t.Run("ptt enabled transmits only while held", func(t *testing.T) {
		c := New(true, "space", nil)
		if !c.Effective() {
			t.Fatal("ptt on must start muted")
		}
		c.Press("space")
		if c.Effective() {
			t.Fatal("held key must unmute")
		}
		c.Release("space")
		if !c.Effective() {
			t.Fatal("release must mute again")
		}
	})

	t.Run("manual mute does not leak into ptt mode", func(t *testing.T) {
		c := New(true, "space", nil)
		c.SetManualMute(true)
		c.Press("space")
		if c.Effective() {
			t.Fatal("manual mute must not override a held ptt key")
		}
	})
}

func TestWrongKeyIgnored(t *testing.T) {
	c := New(true, "space", nil)
	c.Press("enter")
	if !c.Effective() {
		t.Fatal("unbound key unmuted")
	}
}

func TestAutoRepeatIsNoOp(t *testing.T) {
	col := &collect{}
	c := New(true, "space", col.fn)
	c.Press("space")
	c.Press("space")
	c.Press("space")
	if len(col.states) != 1 || col.states[0] != false {
		t.Fatalf("reports = %v, want one unmute", col.states)
	}
}

func TestDisableReleasesHeldKey(t *testing.T) {
	c := New(true, "space", nil)
	c.Press("space")
	c.SetEnabled(false)
	if c.Effective() {
		t.Fatal("disable with manual mute off should be unmuted")
	}
	c.SetEnabled(true)
	if !c.Effective() {
		t.Fatal("re-enable must not inherit the stale held state")
	}
	// The old press must not count after re-enable.
	c.Release("space")
	if !c.Effective() {
		t.Fatal("release without press changed state")
	}
}

func TestRebindIsAtomic(t *testing.T) {
	col := &collect{}
	c := New(true, "space", col.fn)
	c.Press("space")
	if c.Effective() {
		t.Fatal("setup: key held")
	}

	c.Rebind("f13")

	// Old key is dead both directions.
	c.Press("space")
	if !c.Effective() {
		t.Fatal("old key still live after rebind")
	}
	// Rebind dropped the held state, so we are muted until the new key.
	c.Press("f13")
	if c.Effective() {
		t.Fatal("new key not live after rebind")
	}

	// Transitions observed: unmute (press), mute (rebind), unmute (new press).
	want := []bool{false, true, false}
	if len(col.states) != len(want) {
		t.Fatalf("reports = %v, want %v", col.states, want)
	}
	for i := range want {
		if col.states[i] != want[i] {
			t.Fatalf("reports = %v, want %v", col.states, want)
		}
	}
}

func TestRebindSameKeyNoReport(t *testing.T) {
	col := &collect{}
	c := New(true, "space", col.fn)
	c.Rebind("space")
	if len(col.states) != 0 {
		t.Fatalf("same-key rebind reported %v", col.states)
	}
}

func TestEnabledTracksToggle(t *testing.T) {
	var seen []bool
	c := New(true, "space", nil)
	// Mirror the session wiring: the callback reads the controller's
	// current mode, which must already reflect the toggle that fired it.
	c.onChange = func(bool) { seen = append(seen, c.Enabled()) }

	if !c.Enabled() {
		t.Fatal("Enabled() = false after New(true)")
	}
	c.SetEnabled(false)
	c.SetEnabled(true)
	if !c.Enabled() {
		t.Fatal("Enabled() = false after re-enable")
	}
	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Fatalf("enabled at callback time = %v, want [false true]", seen)
	}
}
