package core

import (
	"context"
	"fmt"
	"time"

	"github.com/Kabbura/asymFreeRTOS/protocol"
	"github.com/Kabbura/asymFreeRTOS/shmem"
)

// Payload is the fixed-size request record; word 0 carries the task tag
type Payload [protocol.PayloadWords]uint32

// Attach polls the ready flag between these bounds
const (
	attachPollMin = 100 * time.Microsecond
	attachPollMax = 10 * time.Millisecond
)

// Table is the request slot table laid out in a shared region.
//
// Slot mutation happens only through Channel and Server while the shared
// mutex is held; State may be read without it.
type Table struct {
	region *shmem.Region

	// stepHook runs between payload word stores
	stepHook func()
}

// SlotSnapshot is a copy of one slot's fields
type SlotSnapshot struct {
	ID      int
	State   protocol.State
	Seq     uint32
	Status  uint32
	Payload Payload
	Result  uint32
}

// NewTable returns a table over region without touching its contents
func NewTable(region *shmem.Region) (*Table, error) {
	if region == nil || region.Len() < protocol.RegionSize {
		return nil, ErrRegionTooSmall
	}
	return &Table{region: region}, nil
}

// Region returns the shared region backing the table
func (t *Table) Region() *shmem.Region {
	return t.region
}

// Len returns the number of slots
func (t *Table) Len() int {
	return protocol.SlotCount
}

// Init zeroes every slot, writes the layout header and publishes the ready
// flag last. Only the designated initializer core may call it, before any
// task runs; the peer waits in Attach.
func (t *Table) Init() error {
	r := t.region
	if r.Load32(protocol.HeaderReady) == protocol.Ready && r.Load32(protocol.HeaderMagic) == protocol.Magic {
		return ErrAlreadyInitialized
	}

	r.Store32(protocol.HeaderReady, protocol.NotReady)
	r.Store32(protocol.HeaderMutex, 0)
	r.Zero(protocol.HeaderSize, protocol.SlotCount*protocol.SlotStride)

	r.Store32(protocol.HeaderMagic, protocol.Magic)
	r.Store32(protocol.HeaderVersion, protocol.Version)
	r.Store32(protocol.HeaderSlots, protocol.SlotCount)
	r.Store32(protocol.HeaderStride, protocol.SlotStride)

	r.Store32(protocol.HeaderReady, protocol.Ready)
	RecordEvent(EvtInit, 0, 0, protocol.SlotCount)
	return nil
}

// Reset clears the ready flag so Init can run again, e.g. on a region file
// left over from an earlier run. The peer must not be using the table.
func (t *Table) Reset() {
	t.region.Store32(protocol.HeaderReady, protocol.NotReady)
}

// Ready reports whether the initializer has published the table
func (t *Table) Ready() bool {
	return t.region.Load32(protocol.HeaderReady) == protocol.Ready
}

// Attach blocks until the peer core has initialized the table, then checks
// that both sides agree on the layout.
func (t *Table) Attach(ctx context.Context) error {
	b := newBackoff(attachPollMin, attachPollMax)
	defer b.stop()

	for !t.Ready() {
		if err := b.wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNotInitialized, err)
		}
	}
	return t.checkLayout()
}

func (t *Table) checkLayout() error {
	r := t.region
	checks := []struct {
		name string
		off  int
		want uint32
	}{
		{"magic", protocol.HeaderMagic, protocol.Magic},
		{"version", protocol.HeaderVersion, protocol.Version},
		{"slot count", protocol.HeaderSlots, protocol.SlotCount},
		{"slot stride", protocol.HeaderStride, protocol.SlotStride},
	}
	for _, c := range checks {
		if got := r.Load32(c.off); got != c.want {
			return fmt.Errorf("%w: %s is %d, expected %d", ErrLayoutMismatch, c.name, got, c.want)
		}
	}
	return nil
}

// State reads a slot's state word without the mutex. Ids outside the
// table report StateInvalid.
func (t *Table) State(id int) protocol.State {
	if !t.validID(id) {
		return protocol.StateInvalid
	}
	return protocol.State(t.region.Load32(protocol.SlotOffset(id) + protocol.SlotState))
}

// Snapshot copies every slot. Without the mutex held the fields of a slot
// may come from different moments.
func (t *Table) Snapshot() []SlotSnapshot {
	slots := make([]SlotSnapshot, t.Len())
	for id := range slots {
		base := protocol.SlotOffset(id)
		s := &slots[id]
		s.ID = id
		s.State = t.State(id)
		s.Seq = t.region.Load32(base + protocol.SlotSeq)
		s.Status = t.region.Load32(base + protocol.SlotStatus)
		s.Payload = t.loadPayload(base)
		s.Result = t.region.Load32(base + protocol.SlotResult)
	}
	return slots
}

func (t *Table) validID(id int) bool {
	return id >= 0 && id < t.Len()
}

func (t *Table) setState(id int, s protocol.State) {
	t.region.Store32(protocol.SlotOffset(id)+protocol.SlotState, uint32(s))
}

func (t *Table) loadPayload(base int) Payload {
	var p Payload
	for i := range p {
		p[i] = t.region.Load32(base + protocol.SlotPayload + i*protocol.WordSize)
	}
	return p
}

// writeRequest stores a new request and returns its sequence number.
// Caller holds the mutex and publishes the request with setState afterwards.
func (t *Table) writeRequest(id int, p Payload) uint32 {
	base := protocol.SlotOffset(id)
	seq := t.region.Load32(base+protocol.SlotSeq) + 1
	t.region.Store32(base+protocol.SlotSeq, seq)
	for i, w := range p {
		t.region.Store32(base+protocol.SlotPayload+i*protocol.WordSize, w)
		if t.stepHook != nil {
			t.stepHook()
		}
	}
	t.region.Store32(base+protocol.SlotCRC, uint32(protocol.ChecksumWords(seq, p)))
	t.region.Store32(base+protocol.SlotStatus, protocol.StatusOK)
	t.region.Store32(base+protocol.SlotResult, 0)
	return seq
}

// readRequest loads a request and reports whether its checksum matches
func (t *Table) readRequest(id int) (uint32, Payload, bool) {
	base := protocol.SlotOffset(id)
	seq := t.region.Load32(base + protocol.SlotSeq)
	p := t.loadPayload(base)
	crc := t.region.Load32(base + protocol.SlotCRC)
	return seq, p, crc == uint32(protocol.ChecksumWords(seq, p))
}

func (t *Table) seq(id int) uint32 {
	return t.region.Load32(protocol.SlotOffset(id) + protocol.SlotSeq)
}

// writeResult stores the result ahead of the Complete transition
func (t *Table) writeResult(id int, result, status uint32) {
	base := protocol.SlotOffset(id)
	t.region.Store32(base+protocol.SlotResult, result)
	t.region.Store32(base+protocol.SlotStatus, status)
}

func (t *Table) readResult(id int) (uint32, uint32) {
	base := protocol.SlotOffset(id)
	return t.region.Load32(base + protocol.SlotResult), t.region.Load32(base + protocol.SlotStatus)
}
