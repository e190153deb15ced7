package core

import "sync/atomic"

// SharedMutex is one core's handle on the single cross-core lock guarding
// the whole slot table. Each core creates its own SharedMutex around the
// same hardware register.
type SharedMutex struct {
	hw         HardwareMutex
	cs         criticalSection
	contention atomic.Uint64
}

// NewSharedMutex wraps a hardware mutex. It panics if hw is nil.
func NewSharedMutex(hw HardwareMutex) *SharedMutex {
	if hw == nil {
		panic("hardware mutex not configured")
	}
	return &SharedMutex{hw: hw}
}

// Acquire enters the local critical section and then spins until the
// hardware lock is taken. It never fails.
func (m *SharedMutex) Acquire() {
	m.cs.enter()
	for !m.hw.TryAcquire() {
		m.contention.Add(1)
		cpuRelax()
	}
}

// Release drops the hardware lock and leaves the critical section
func (m *SharedMutex) Release() {
	m.hw.Release()
	m.cs.exit()
}

// Contention returns the number of failed hardware attempts so far
func (m *SharedMutex) Contention() uint64 {
	return m.contention.Load()
}
