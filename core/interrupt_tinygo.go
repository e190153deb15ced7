//go:build tinygo

package core

import "runtime/interrupt"

// criticalSection disables interrupts, and with them task switches, for as
// long as the shared mutex is held. Only the holder touches state.
type criticalSection struct {
	state interrupt.State
}

func (c *criticalSection) enter() {
	state := interrupt.Disable()
	c.state = state
}

func (c *criticalSection) exit() {
	interrupt.Restore(c.state)
}

// cpuRelax is a plain spin; the peer holds the lock only briefly
func cpuRelax() {}
