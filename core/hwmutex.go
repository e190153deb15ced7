// Package core implements the cross-core request/response protocol: the
// shared mutex, the request slot table and the requester and server sides.
package core

import (
	"github.com/Kabbura/asymFreeRTOS/protocol"
	"github.com/Kabbura/asymFreeRTOS/shmem"
)

// Core identifiers written into the mutex register by the owner
const (
	ServerCore    uint16 = 0
	RequesterCore uint16 = 1
)

// HardwareMutex is the cross-core arbitration primitive.
// Platform-specific implementations wrap the actual register.
type HardwareMutex interface {
	// TryAcquire attempts to take the lock once and reports success
	TryAcquire() bool

	// Release relinquishes the lock held by this core
	Release()
}

// RegisterMutex models a memory-mapped mutex register in the shared region.
// The register holds owner<<16 | 1 while taken and 0 while free. Release
// writes from a core that does not own the lock are ignored.
type RegisterMutex struct {
	region *shmem.Region
	core   uint16
}

// NewRegisterMutex returns core's view of the mutex register in region
func NewRegisterMutex(region *shmem.Region, core uint16) *RegisterMutex {
	return &RegisterMutex{region: region, core: core}
}

func (m *RegisterMutex) lockValue() uint32 {
	return uint32(m.core)<<16 | 1
}

func (m *RegisterMutex) TryAcquire() bool {
	return m.region.CompareAndSwap32(protocol.HeaderMutex, 0, m.lockValue())
}

func (m *RegisterMutex) Release() {
	m.region.CompareAndSwap32(protocol.HeaderMutex, m.lockValue(), 0)
}

// Owner reports which core holds the register, if any
func (m *RegisterMutex) Owner() (uint16, bool) {
	v := m.region.Load32(protocol.HeaderMutex)
	if v&0xFFFF == 0 {
		return 0, false
	}
	return uint16(v >> 16), true
}
