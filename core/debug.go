package core

import (
	"strconv"
	"sync"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one slot transition for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Slot      uint8  // Slot / task id
	Seq       uint32 // Request sequence number of the slot
	Value     uint32 // Payload tag or result, depending on event
}

// Event type codes
const (
	EvtSubmit    = 1 // Requester posted a request
	EvtClaim     = 2 // Server moved a request to in-progress
	EvtComplete  = 3 // Server published a result
	EvtConsume   = 4 // Requester read the result and emptied the slot
	EvtWithdraw  = 5 // Requester withdrew an unclaimed request
	EvtOrphan    = 6 // Requester gave up on a claimed request
	EvtReclaim   = 7 // Stale result of an orphaned request discarded
	EvtViolation = 8 // Submit on a non-empty slot
	EvtCorrupt   = 9 // Server rejected a payload
	EvtInit      = 10
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Trace ring buffer, shared by every task on this core
	traceMu      sync.Mutex
	traceRing    [TraceRingSize]TraceEvent
	traceHead    uint8
	traceEnabled bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTraceEnabled turns event capture on or off
func SetTraceEnabled(enabled bool) {
	traceMu.Lock()
	traceEnabled = enabled
	traceMu.Unlock()
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker(debugChan)
}

func debugOutputWorker(ch chan string) {
	for msg := range ch {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Drops the message if the channel is full
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordEvent captures a protocol event in the ring buffer
func RecordEvent(eventType uint8, slot int, seq, value uint32) {
	traceMu.Lock()
	defer traceMu.Unlock()
	if !traceEnabled {
		return
	}
	idx := traceHead
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		Slot:      uint8(slot),
		Seq:       seq,
		Value:     value,
	}
	traceHead = (idx + 1) % TraceRingSize
}

// TraceEvents returns the captured events, oldest first
func TraceEvents() []TraceEvent {
	traceMu.Lock()
	defer traceMu.Unlock()

	events := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(traceHead+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

func eventName(t uint8) string {
	switch t {
	case EvtSubmit:
		return "SUBMIT"
	case EvtClaim:
		return "CLAIM"
	case EvtComplete:
		return "COMPLETE"
	case EvtConsume:
		return "CONSUME"
	case EvtWithdraw:
		return "WITHDRAW"
	case EvtOrphan:
		return "ORPHAN!"
	case EvtReclaim:
		return "RECLAIM"
	case EvtViolation:
		return "VIOLATION!"
	case EvtCorrupt:
		return "CORRUPT!"
	case EvtInit:
		return "INIT"
	default:
		return "UNKNOWN"
	}
}

// DumpTrace outputs the trace ring (call on shutdown/error)
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range TraceEvents() {
		debugPrintln("[TRACE] " + eventName(evt.EventType) +
			" slot=" + strconv.Itoa(int(evt.Slot)) +
			" seq=" + strconv.FormatUint(uint64(evt.Seq), 10) +
			" value=0x" + strconv.FormatUint(uint64(evt.Value), 16))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer
func ClearTrace() {
	traceMu.Lock()
	defer traceMu.Unlock()
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceHead = 0
}
