package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Kabbura/asymFreeRTOS/protocol"
)

func TestSubmitRoundTripEverySlot(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	for id := 0; id < protocol.SlotCount; id++ {
		done := submitAsync(context.Background(), ch, id)
		waitForState(t, table, id, protocol.StateRequested)

		p, err := srv.Claim(id)
		if err != nil {
			t.Fatalf("Claim(%d) failed: %v", id, err)
		}
		if p[0] != uint32(id) {
			t.Errorf("Slot %d payload tag %d", id, p[0])
		}
		if err := srv.Complete(id, uint32(0x100+id)); err != nil {
			t.Fatalf("Complete(%d) failed: %v", id, err)
		}

		r := receive(t, done)
		if r.err != nil || r.value != uint32(0x100+id) {
			t.Errorf("Submit(%d) = 0x%X, %v", id, r.value, r.err)
		}
		if s := table.State(id); s != protocol.StateEmpty {
			t.Errorf("Slot %d left in %s", id, s)
		}
	}
}

func TestSubmitBlocksUntilPeerCompletes(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	done := submitAsync(context.Background(), ch, 2)
	waitForState(t, table, 2, protocol.StateRequested)
	assertPending(t, done)

	if _, err := srv.Claim(2); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	assertPending(t, done)

	if err := srv.Complete(2, 0x2A); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	r := receive(t, done)
	if r.err != nil {
		t.Fatalf("Submit failed: %v", r.err)
	}
	if r.value != 0x2A {
		t.Errorf("Expected 0x2A, got 0x%X", r.value)
	}
	if s := table.State(2); s != protocol.StateEmpty {
		t.Errorf("Slot 2 left in %s", s)
	}
}

func TestSubmitOutOfOrderService(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	done0 := submitAsync(context.Background(), ch, 0)
	done1 := submitAsync(context.Background(), ch, 1)
	waitForState(t, table, 0, protocol.StateRequested)
	waitForState(t, table, 1, protocol.StateRequested)

	if _, err := srv.Claim(1); err != nil {
		t.Fatalf("Claim(1) failed: %v", err)
	}
	if err := srv.Complete(1, 0x11); err != nil {
		t.Fatalf("Complete(1) failed: %v", err)
	}

	r1 := receive(t, done1)
	if r1.err != nil || r1.value != 0x11 {
		t.Errorf("Task 1 got 0x%X, %v; expected 0x11", r1.value, r1.err)
	}
	assertPending(t, done0)

	if _, err := srv.Claim(0); err != nil {
		t.Fatalf("Claim(0) failed: %v", err)
	}
	if err := srv.Complete(0, 0x10); err != nil {
		t.Fatalf("Complete(0) failed: %v", err)
	}

	r0 := receive(t, done0)
	if r0.err != nil || r0.value != 0x10 {
		t.Errorf("Task 0 got 0x%X, %v; expected 0x10", r0.value, r0.err)
	}
}

func TestSubmitRepeatedCycles(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), ChannelConfig{
		PollInterval:    time.Microsecond,
		MaxPollInterval: 20 * time.Microsecond,
	})
	srv := NewServer(table, serverMutex(table), func(id int, p Payload) uint32 {
		return p[1] * 3
	}, ServerConfig{IdleInterval: time.Microsecond, MaxIdleInterval: 20 * time.Microsecond})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	const cycles = 10000
	for i := uint32(1); i <= cycles; i++ {
		v, err := ch.SubmitPayload(context.Background(), 6, Payload{6, i})
		if err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
		if v != i*3 {
			t.Fatalf("Cycle %d returned %d, expected %d", i, v, i*3)
		}
	}

	cancel()
	if err := <-served; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}

	for _, s := range table.Snapshot() {
		if s.State != protocol.StateEmpty {
			t.Errorf("Slot %d left in %s", s.ID, s.State)
		}
		want := uint32(0)
		if s.ID == 6 {
			want = cycles
		}
		if s.Seq != want {
			t.Errorf("Slot %d sequence %d, expected %d", s.ID, s.Seq, want)
		}
	}
}

func TestSubmitIsolation(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	// Slot 5 holds a pending request the whole time
	if err := ch.post(5, Payload{5, 0x5555, 0xAAAA}); err != nil {
		t.Fatalf("post(5) failed: %v", err)
	}
	before := table.Snapshot()[5]

	for i := 0; i < 50; i++ {
		done := submitAsync(context.Background(), ch, 3)
		waitForState(t, table, 3, protocol.StateRequested)
		if _, err := srv.Claim(3); err != nil {
			t.Fatalf("Claim(3) failed: %v", err)
		}
		if err := srv.Complete(3, uint32(i)); err != nil {
			t.Fatalf("Complete(3) failed: %v", err)
		}
		if r := receive(t, done); r.err != nil || r.value != uint32(i) {
			t.Fatalf("Submit(3) = %d, %v", r.value, r.err)
		}
	}

	if after := table.Snapshot()[5]; after != before {
		t.Errorf("Slot 5 changed: before %+v after %+v", before, after)
	}
}

// Tasks are preempted between payload word stores while the server runs
// flat out; the server must only ever see whole payloads.
func TestSubmitNoTornPayloads(t *testing.T) {
	table := newTestTable(t)
	table.stepHook = func() {
		runtime.Gosched()
		time.Sleep(time.Microsecond)
	}
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())

	var mu sync.Mutex
	var torn []Payload
	srv := NewServer(table, serverMutex(table), func(id int, p Payload) uint32 {
		if p[0] != uint32(id) || p[2] != p[1]^0xA5A5A5A5 {
			mu.Lock()
			torn = append(torn, p)
			mu.Unlock()
		}
		return p[1]
	}, fastServerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, protocol.SlotCount)
	for id := 0; id < protocol.SlotCount; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := uint32(0); i < 200; i++ {
				k := uint32(id)<<16 | i
				v, err := ch.SubmitPayload(context.Background(), id, Payload{uint32(id), k, k ^ 0xA5A5A5A5})
				if err != nil {
					errs <- err
					return
				}
				if v != k {
					errs <- errors.New("result belongs to another request")
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Task failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(torn) != 0 {
		t.Errorf("Server observed %d torn payloads, first %v", len(torn), torn[0])
	}
}

func TestSubmitInvalidTask(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())

	for _, id := range []int{-1, protocol.SlotCount, 100} {
		if _, err := ch.Submit(context.Background(), id); !errors.Is(err, ErrInvalidTask) {
			t.Errorf("Submit(%d): expected ErrInvalidTask, got %v", id, err)
		}
	}
}

func TestSubmitProtocolViolation(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	done := submitAsync(context.Background(), ch, 4)
	waitForState(t, table, 4, protocol.StateRequested)

	// A second task misusing the same id
	if _, err := ch.Submit(context.Background(), 4); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Expected ErrProtocolViolation, got %v", err)
	}
	if s := table.State(4); s != protocol.StateRequested {
		t.Errorf("Violation disturbed slot: %s", s)
	}

	if _, err := srv.Claim(4); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := srv.Complete(4, 9); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if r := receive(t, done); r.err != nil || r.value != 9 {
		t.Errorf("Original submit got %d, %v", r.value, r.err)
	}
}

func TestSubmitTimeoutWithdrawsRequest(t *testing.T) {
	table := newTestTable(t)
	cfg := fastChannelConfig()
	cfg.Timeout = 5 * time.Millisecond
	ch := NewChannel(table, requesterMutex(table), cfg)

	_, err := ch.Submit(context.Background(), 1)
	if !errors.Is(err, ErrStarved) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected ErrStarved wrapping deadline, got %v", err)
	}
	if s := table.State(1); s != protocol.StateEmpty {
		t.Errorf("Withdrawn slot left in %s", s)
	}

	// The slot is usable again
	srv := NewServer(table, serverMutex(table), func(id int, p Payload) uint32 { return 77 }, fastServerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	ch.cfg.Timeout = 0
	if v, err := ch.Submit(context.Background(), 1); err != nil || v != 77 {
		t.Errorf("Submit after withdraw = %d, %v", v, err)
	}
}

func TestSubmitAbandonedWhileInProgress(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := submitAsync(ctx, ch, 3)
	waitForState(t, table, 3, protocol.StateRequested)
	if _, err := srv.Claim(3); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	cancel()

	r := receive(t, done)
	if !errors.Is(r.err, ErrStarved) || !errors.Is(r.err, context.Canceled) {
		t.Fatalf("Expected ErrStarved wrapping cancel, got %v", r.err)
	}

	if _, err := ch.Submit(context.Background(), 3); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("Expected ErrSlotBusy while peer holds slot, got %v", err)
	}

	// The late result is discarded by the next submit
	if err := srv.Complete(3, 0xDEAD); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	done = submitAsync(context.Background(), ch, 3)
	waitForState(t, table, 3, protocol.StateRequested)
	if _, err := srv.Claim(3); err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if err := srv.Complete(3, 0xBEEF); err != nil {
		t.Fatalf("Second complete failed: %v", err)
	}
	if r := receive(t, done); r.err != nil || r.value != 0xBEEF {
		t.Errorf("Expected 0xBEEF, got 0x%X, %v", r.value, r.err)
	}
}

func TestSubmitCancelledAfterCompletionReturnsResult(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	srv := NewServer(table, serverMutex(table), nil, fastServerConfig())

	if err := ch.post(0, Payload{0}); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if _, err := srv.Claim(0); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := srv.Complete(0, 5); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	v, err := ch.abandon(0, context.Canceled)
	if err != nil || v != 5 {
		t.Errorf("abandon on complete slot = %d, %v", v, err)
	}
	if s := table.State(0); s != protocol.StateEmpty {
		t.Errorf("Slot left in %s", s)
	}
}

func TestSubmitCorruptPayload(t *testing.T) {
	table := newTestTable(t)
	ch := NewChannel(table, requesterMutex(table), fastChannelConfig())
	called := false
	srv := NewServer(table, serverMutex(table), func(id int, p Payload) uint32 {
		called = true
		return 1
	}, fastServerConfig())

	done := submitAsync(context.Background(), ch, 5)
	waitForState(t, table, 5, protocol.StateRequested)
	table.Region().Store32(protocol.SlotOffset(5)+protocol.SlotPayload+4, 0xBAD)

	n, err := srv.ServeOnce()
	if err != nil || n != 1 {
		t.Fatalf("ServeOnce = %d, %v", n, err)
	}
	if called {
		t.Error("Handler ran for a corrupt payload")
	}

	r := receive(t, done)
	if !errors.Is(r.err, ErrCorruptPayload) {
		t.Errorf("Expected ErrCorruptPayload, got %v", r.err)
	}
	if s := table.State(5); s != protocol.StateEmpty {
		t.Errorf("Slot left in %s", s)
	}
}
