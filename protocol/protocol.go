// Package protocol defines the shared-memory record layout both cores agree on.
//
// The region is a flat array of little-endian 32-bit words: a fixed header
// followed by SlotCount request slots of SlotStride bytes each. Records hold
// values only, never pointers, since the cores may map the region at
// different base addresses.
package protocol

// Version is the layout version stamped into the region header
const Version = 1

// Magic identifies an initialized region ("ASYM" little-endian)
const Magic = 0x4D595341

// Slot table dimensions
const (
	SlotCount    = 7 // One slot per task id
	PayloadWords = 3 // Request payload size in words, word 0 is the task tag
	SlotWords    = 8
	SlotStride   = SlotWords * WordSize
	WordSize     = 4
)

// Header word offsets (bytes from region base)
const (
	HeaderMagic   = 0
	HeaderVersion = 4
	HeaderSlots   = 8
	HeaderStride  = 12
	HeaderReady   = 16
	HeaderMutex   = 20 // Simulated hardware mutex register
	HeaderSize    = 32
)

// Slot field offsets (bytes from slot base)
const (
	SlotState   = 0
	SlotSeq     = 4
	SlotCRC     = 8
	SlotStatus  = 12
	SlotPayload = 16
	SlotResult  = 28
)

// RegionSize is the number of bytes a region must provide
const RegionSize = HeaderSize + SlotCount*SlotStride

// Ready flag values
const (
	NotReady = 0
	Ready    = 1
)

// Slot status values written by the server alongside the result
const (
	StatusOK      = 0
	StatusCorrupt = 1
)

// SlotOffset returns the byte offset of slot id from the region base
func SlotOffset(id int) int {
	return HeaderSize + id*SlotStride
}

// State is the per-slot handshake state stored in the slot's state word
type State uint32

const (
	StateEmpty      State = 0
	StateRequested  State = 1
	StateInProgress State = 2
	StateComplete   State = 3

	// StateInvalid is never stored; it is reported for ids outside the table
	StateInvalid State = 0xFFFFFFFF
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRequested:
		return "requested"
	case StateInProgress:
		return "in-progress"
	case StateComplete:
		return "complete"
	default:
		return "invalid"
	}
}
