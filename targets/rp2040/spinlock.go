//go:build rp2040 || rp2350

package main

import "device/rp"

// SIOSpinlock is the hardware mutex on RP2040: reading a spinlock register
// claims it (non-zero result on success), writing any value releases it.
// Spinlock 31 is left alone by the TinyGo runtime.
type SIOSpinlock struct{}

func (SIOSpinlock) TryAcquire() bool {
	return rp.SIO.SPINLOCK31.Get() != 0
}

func (SIOSpinlock) Release() {
	rp.SIO.SPINLOCK31.Set(1)
}
