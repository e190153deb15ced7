//go:build !tinygo

package core

import (
	"runtime"
	"sync"
)

// criticalSection keeps same-core tasks out while the shared mutex is held.
// Without interrupt control a per-core lock stands in for disabled
// preemption: tasks of one core serialize here before touching the
// hardware register.
type criticalSection struct {
	mu sync.Mutex
}

func (c *criticalSection) enter() {
	c.mu.Lock()
}

func (c *criticalSection) exit() {
	c.mu.Unlock()
}

// cpuRelax lets other goroutines run between hardware lock attempts
func cpuRelax() {
	runtime.Gosched()
}
