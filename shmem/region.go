// Package shmem provides the memory region shared by both cores.
//
// All access goes through aligned 32-bit atomic operations so that a word
// written by one core is observed whole by the other, and so that stores are
// ordered: a store made before an atomic store of a flag word is visible to
// any core that observes the flag.
package shmem

import (
	"errors"
	"strconv"
	"sync/atomic"
	"unsafe"
)

var (
	ErrRegionTooSmall = errors.New("shared region too small")
	ErrMisaligned     = errors.New("shared region not word aligned")
	ErrMapUnsupported = errors.New("mapped shared regions not supported on this platform")
)

// Region is a fixed-size shared memory arena addressed by byte offset
type Region struct {
	buf   []byte
	unmap func() error
}

// New allocates a zeroed in-process region of at least size bytes
func New(size int) *Region {
	words := make([]uint32, (size+3)/4)
	return FromWords(words)
}

// FromWords wraps an existing word array, such as a statically placed
// buffer on a target without an MMU.
func FromWords(words []uint32) *Region {
	if len(words) == 0 {
		return &Region{}
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*4)
	return &Region{buf: buf}
}

// FromBytes wraps a byte slice, which must be 4-byte aligned
func FromBytes(buf []byte) (*Region, error) {
	if len(buf) > 0 && uintptr(unsafe.Pointer(&buf[0]))%4 != 0 {
		return nil, ErrMisaligned
	}
	return &Region{buf: buf}, nil
}

// Len returns the region size in bytes
func (r *Region) Len() int {
	return len(r.buf)
}

// Load32 atomically reads the word at off
func (r *Region) Load32(off int) uint32 {
	return atomic.LoadUint32(r.word(off))
}

// Store32 atomically writes the word at off
func (r *Region) Store32(off int, v uint32) {
	atomic.StoreUint32(r.word(off), v)
}

// CompareAndSwap32 atomically replaces the word at off if it holds old
func (r *Region) CompareAndSwap32(off int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(r.word(off), old, new)
}

// Add32 atomically adds delta to the word at off and returns the new value
func (r *Region) Add32(off int, delta uint32) uint32 {
	return atomic.AddUint32(r.word(off), delta)
}

// Zero clears n bytes starting at off, word by word
func (r *Region) Zero(off, n int) {
	for i := off; i < off+n; i += 4 {
		r.Store32(i, 0)
	}
}

// Close releases a mapped region. It is a no-op for in-process regions.
func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	r.buf = nil
	return err
}

func (r *Region) word(off int) *uint32 {
	if off < 0 || off+4 > len(r.buf) || off%4 != 0 {
		panic("shmem: bad word offset " + strconv.Itoa(off))
	}
	return (*uint32)(unsafe.Pointer(&r.buf[off]))
}
