//go:build rp2040 || rp2350

package main

import (
	"context"
	"machine"
	"time"

	"github.com/Kabbura/asymFreeRTOS/core"
	"github.com/Kabbura/asymFreeRTOS/protocol"
	"github.com/Kabbura/asymFreeRTOS/runner"
	"github.com/Kabbura/asymFreeRTOS/shmem"
)

// Shared table, visible to both cores at the same address
var sharedWords [protocol.RegionSize / protocol.WordSize]uint32

var table *core.Table

func main() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	region := shmem.FromWords(sharedWords[:])
	var err error
	table, err = core.NewTable(region)
	if err != nil {
		println("table:", err.Error())
		return
	}

	// Core 0 owns initialization; core 1 attaches before serving
	table.Reset()
	if err := table.Init(); err != nil {
		println("init:", err.Error())
		return
	}

	println("CPU 1 started")
	machine.Core1.Start(core1Main)

	mu := core.NewSharedMutex(SIOSpinlock{})
	ch := core.NewChannel(table, mu, core.DefaultChannelConfig())

	r := &runner.Runner{
		Channel: ch,
		Tasks:   protocol.SlotCount,
		Delay:   30 * time.Millisecond,
		Sink:    machine.Serial,
	}
	go r.Run(context.Background())

	for {
		led.Set(!led.Get())
		time.Sleep(500 * time.Millisecond)
	}
}

// core1Main serves requests from the tasks on core 0
func core1Main() {
	if err := table.Attach(context.Background()); err != nil {
		println("attach:", err.Error())
		return
	}

	var counts [protocol.SlotCount]uint32
	srv := core.NewServer(table, core.NewSharedMutex(SIOSpinlock{}), func(id int, p core.Payload) uint32 {
		counts[id]++
		return counts[id]<<4 | p[0]&0xF
	}, core.DefaultServerConfig())

	srv.Serve(context.Background())
}
