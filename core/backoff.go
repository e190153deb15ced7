package core

import (
	"context"
	"runtime"
	"time"
)

// backoff suspends a polling task with an exponentially growing delay
type backoff struct {
	min, max time.Duration
	cur      time.Duration
	timer    *time.Timer
}

func newBackoff(min, max time.Duration) *backoff {
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, cur: min}
}

func (b *backoff) reset() {
	b.cur = b.min
}

// wait blocks for the current delay or until ctx is done
func (b *backoff) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cur <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}

	if b.timer == nil {
		b.timer = time.NewTimer(b.cur)
	} else {
		b.timer.Reset(b.cur)
	}

	select {
	case <-ctx.Done():
		b.timer.Stop()
		return ctx.Err()
	case <-b.timer.C:
	}

	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return nil
}

func (b *backoff) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
}
