package core

import (
	"context"
	"testing"
	"time"

	"github.com/Kabbura/asymFreeRTOS/protocol"
	"github.com/Kabbura/asymFreeRTOS/shmem"
)

type submitResult struct {
	value uint32
	err   error
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(shmem.New(protocol.RegionSize))
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if err := table.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return table
}

func requesterMutex(table *Table) *SharedMutex {
	return NewSharedMutex(NewRegisterMutex(table.Region(), RequesterCore))
}

func serverMutex(table *Table) *SharedMutex {
	return NewSharedMutex(NewRegisterMutex(table.Region(), ServerCore))
}

func fastChannelConfig() ChannelConfig {
	return ChannelConfig{
		PollInterval:    10 * time.Microsecond,
		MaxPollInterval: 200 * time.Microsecond,
	}
}

func fastServerConfig() ServerConfig {
	return ServerConfig{
		IdleInterval:    10 * time.Microsecond,
		MaxIdleInterval: 200 * time.Microsecond,
	}
}

func submitAsync(ctx context.Context, c *Channel, id int) <-chan submitResult {
	done := make(chan submitResult, 1)
	go func() {
		v, err := c.Submit(ctx, id)
		done <- submitResult{value: v, err: err}
	}()
	return done
}

func waitForState(t *testing.T, table *Table, id int, want protocol.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for table.State(id) != want {
		if time.Now().After(deadline) {
			t.Fatalf("Slot %d stuck in %s, expected %s", id, table.State(id), want)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func receive(t *testing.T, done <-chan submitResult) submitResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
		return submitResult{}
	}
}

func assertPending(t *testing.T, done <-chan submitResult) {
	t.Helper()
	select {
	case r := <-done:
		t.Fatalf("Submit returned early: value=0x%X err=%v", r.value, r.err)
	case <-time.After(20 * time.Millisecond):
	}
}
