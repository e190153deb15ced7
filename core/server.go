package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kabbura/asymFreeRTOS/protocol"
)

// Handler performs the work for one request and returns its result
type Handler func(id int, p Payload) uint32

// ServerConfig controls how the server idles between scans
type ServerConfig struct {
	IdleInterval    time.Duration
	MaxIdleInterval time.Duration
}

// DefaultServerConfig returns the idle polling defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IdleInterval:    50 * time.Microsecond,
		MaxIdleInterval: 2 * time.Millisecond,
	}
}

// Server is the peer side of the slot protocol: it claims requested slots,
// runs the handler outside the critical section and publishes results.
// Slots are served round-robin.
type Server struct {
	table   *Table
	mu      *SharedMutex
	handler Handler
	cfg     ServerConfig
	next    int
}

// NewServer creates a server over table using this core's mutex
func NewServer(table *Table, mu *SharedMutex, handler Handler, cfg ServerConfig) *Server {
	def := DefaultServerConfig()
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.MaxIdleInterval == 0 {
		cfg.MaxIdleInterval = def.MaxIdleInterval
	}
	return &Server{table: table, mu: mu, handler: handler, cfg: cfg}
}

// Claim moves a requested slot to in-progress and returns its payload.
// A payload failing its checksum is still claimed; the caller must Reject it.
func (s *Server) Claim(id int) (Payload, error) {
	if !s.table.validID(id) {
		return Payload{}, fmt.Errorf("%w: %d", ErrInvalidTask, id)
	}

	s.mu.Acquire()
	defer s.mu.Release()

	if state := s.table.State(id); state != protocol.StateRequested {
		return Payload{}, fmt.Errorf("%w: slot %d is %s", ErrNotRequested, id, state)
	}

	seq, p, ok := s.table.readRequest(id)
	s.table.setState(id, protocol.StateInProgress)
	if !ok {
		RecordEvent(EvtCorrupt, id, seq, p[0])
		return p, fmt.Errorf("%w: slot %d seq %d", ErrCorruptPayload, id, seq)
	}
	RecordEvent(EvtClaim, id, seq, p[0])
	return p, nil
}

// Complete publishes result for a claimed slot
func (s *Server) Complete(id int, result uint32) error {
	return s.finish(id, result, protocol.StatusOK)
}

// Reject completes a claimed slot with the corrupt-payload status
func (s *Server) Reject(id int) error {
	return s.finish(id, 0, protocol.StatusCorrupt)
}

func (s *Server) finish(id int, result, status uint32) error {
	if !s.table.validID(id) {
		return fmt.Errorf("%w: %d", ErrInvalidTask, id)
	}

	s.mu.Acquire()
	defer s.mu.Release()

	if state := s.table.State(id); state != protocol.StateInProgress {
		return fmt.Errorf("%w: slot %d is %s", ErrNotInProgress, id, state)
	}
	s.table.writeResult(id, result, status)
	s.table.setState(id, protocol.StateComplete)
	RecordEvent(EvtComplete, id, s.table.seq(id), result)
	return nil
}

// ServeOnce scans every slot once, starting after the last one served,
// and serves each pending request. It returns the number served.
func (s *Server) ServeOnce() (int, error) {
	served := 0
	start := s.next
	n := s.table.Len()

	for i := 0; i < n; i++ {
		id := (start + i) % n
		if s.table.State(id) != protocol.StateRequested {
			continue
		}

		p, err := s.Claim(id)
		switch {
		case errors.Is(err, ErrNotRequested):
			// Withdrawn between the peek and the claim
			continue
		case errors.Is(err, ErrCorruptPayload):
			if err := s.Reject(id); err != nil {
				return served, err
			}
		case err != nil:
			return served, err
		default:
			if err := s.Complete(id, s.handler(id, p)); err != nil {
				return served, err
			}
		}

		served++
		s.next = (id + 1) % n
	}
	return served, nil
}

// Serve runs ServeOnce until ctx is done, backing off while idle
func (s *Server) Serve(ctx context.Context) error {
	b := newBackoff(s.cfg.IdleInterval, s.cfg.MaxIdleInterval)
	defer b.stop()

	for {
		n, err := s.ServeOnce()
		if err != nil {
			return err
		}
		if n > 0 {
			b.reset()
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
}
