// Package runner drives the periodic tasks of the requesting core. Each task
// is bound to one slot, submits a request, reports the result and sleeps.
package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Submitter is the blocking request call the tasks make
type Submitter interface {
	Submit(ctx context.Context, id int) (uint32, error)
}

// Runner runs task ids 0..Tasks-1 concurrently
type Runner struct {
	Channel Submitter
	Tasks   int
	Delay   time.Duration
	Sink    io.Writer // Result lines; nil discards them

	sinkMu    sync.Mutex
	completed atomic.Uint64
	failed    atomic.Uint64
}

// Stats is a snapshot of task outcomes
type Stats struct {
	Completed uint64
	Failed    uint64
}

// Run starts every task and blocks until ctx is done and all tasks stopped
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for id := 0; id < r.Tasks; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.task(ctx, id)
		}(id)
	}
	wg.Wait()
	return ctx.Err()
}

// Stats returns the outcome counters
func (r *Runner) Stats() Stats {
	return Stats{Completed: r.completed.Load(), Failed: r.failed.Load()}
}

func (r *Runner) task(ctx context.Context, id int) {
	for {
		value, err := r.Channel.Submit(ctx, id)
		if ctx.Err() != nil {
			return
		}
		r.report(id, value, err)

		if !sleep(ctx, r.Delay) {
			return
		}
	}
}

func (r *Runner) report(id int, value uint32, err error) {
	if err != nil {
		r.failed.Add(1)
	} else {
		r.completed.Add(1)
	}
	if r.Sink == nil {
		return
	}

	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	if err != nil {
		fmt.Fprintf(r.Sink, "Task %d failed: %v\n", id, err)
		return
	}
	fmt.Fprintf(r.Sink, "%x: Task %d Done\n", value, id)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
