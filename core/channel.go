package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Kabbura/asymFreeRTOS/protocol"
)

// ChannelConfig controls how a requester waits for the peer
type ChannelConfig struct {
	PollInterval    time.Duration // First delay between state polls
	MaxPollInterval time.Duration // Cap for the doubling poll delay
	Timeout         time.Duration // Per-submit limit, 0 waits indefinitely
}

// DefaultChannelConfig returns the polling defaults
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		PollInterval:    50 * time.Microsecond,
		MaxPollInterval: 5 * time.Millisecond,
	}
}

// Channel is the requester side of the slot protocol. Each task id must be
// used by at most one task at a time.
type Channel struct {
	table *Table
	mu    *SharedMutex
	cfg   ChannelConfig

	// orphaned marks slots whose request was abandoned while the server
	// held it. Lives in requester memory, not the shared region.
	orphaned [protocol.SlotCount]atomic.Bool
}

// NewChannel creates a requester over table using this core's mutex.
// Zero poll intervals take the defaults.
func NewChannel(table *Table, mu *SharedMutex, cfg ChannelConfig) *Channel {
	def := DefaultChannelConfig()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = def.MaxPollInterval
	}
	return &Channel{table: table, mu: mu, cfg: cfg}
}

// Submit posts a request tagged with the task id and blocks until the peer
// completes it, returning the peer's result.
func (c *Channel) Submit(ctx context.Context, id int) (uint32, error) {
	return c.SubmitPayload(ctx, id, Payload{uint32(id)})
}

// SubmitPayload posts p on slot id and blocks until the peer completes it.
//
// When ctx ends (or the configured timeout passes) first, an unclaimed
// request is withdrawn and a finished one is still returned. A request the
// peer is working on is abandoned; its slot is recovered by the next submit
// once the peer completes it.
func (c *Channel) SubmitPayload(ctx context.Context, id int, p Payload) (uint32, error) {
	if !c.table.validID(id) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTask, id)
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if err := c.post(id, p); err != nil {
		return 0, err
	}
	if err := c.await(ctx, id); err != nil {
		return c.abandon(id, err)
	}

	c.mu.Acquire()
	defer c.mu.Release()
	return c.consumeLocked(id)
}

func (c *Channel) post(id int, p Payload) error {
	c.mu.Acquire()
	defer c.mu.Release()

	state := c.table.State(id)
	if c.orphaned[id].Load() {
		switch state {
		case protocol.StateComplete:
			// Result of the abandoned request nobody is waiting for
			RecordEvent(EvtReclaim, id, c.table.seq(id), 0)
			c.table.setState(id, protocol.StateEmpty)
			state = protocol.StateEmpty
		case protocol.StateRequested, protocol.StateInProgress:
			return fmt.Errorf("%w: slot %d is %s", ErrSlotBusy, id, state)
		}
		c.orphaned[id].Store(false)
	}

	if state != protocol.StateEmpty {
		RecordEvent(EvtViolation, id, c.table.seq(id), uint32(state))
		return fmt.Errorf("%w: slot %d is %s", ErrProtocolViolation, id, state)
	}

	seq := c.table.writeRequest(id, p)
	c.table.setState(id, protocol.StateRequested)
	RecordEvent(EvtSubmit, id, seq, p[0])
	return nil
}

// await polls the state word without the mutex until the slot completes
func (c *Channel) await(ctx context.Context, id int) error {
	b := newBackoff(c.cfg.PollInterval, c.cfg.MaxPollInterval)
	defer b.stop()

	for c.table.State(id) != protocol.StateComplete {
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) consumeLocked(id int) (uint32, error) {
	result, status := c.table.readResult(id)
	seq := c.table.seq(id)
	c.table.setState(id, protocol.StateEmpty)
	RecordEvent(EvtConsume, id, seq, result)

	if status == protocol.StatusCorrupt {
		return 0, fmt.Errorf("%w: slot %d seq %d", ErrCorruptPayload, id, seq)
	}
	return result, nil
}

func (c *Channel) abandon(id int, cause error) (uint32, error) {
	c.mu.Acquire()
	defer c.mu.Release()

	seq := c.table.seq(id)
	switch state := c.table.State(id); state {
	case protocol.StateComplete:
		return c.consumeLocked(id)
	case protocol.StateRequested:
		c.table.setState(id, protocol.StateEmpty)
		RecordEvent(EvtWithdraw, id, seq, 0)
		return 0, fmt.Errorf("%w: slot %d withdrawn: %w", ErrStarved, id, cause)
	case protocol.StateInProgress:
		c.orphaned[id].Store(true)
		RecordEvent(EvtOrphan, id, seq, uint32(state))
		return 0, fmt.Errorf("%w: slot %d is %s: %w", ErrStarved, id, state, cause)
	default:
		return 0, fmt.Errorf("%w: slot %d is %s: %w", ErrStarved, id, state, cause)
	}
}
