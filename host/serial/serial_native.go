//go:build !wasm

package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// Open opens the console device and returns a line-oriented sink over it
func Open(cfg *Config) (*Console, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("no serial device configured")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name: cfg.Device,
		Baud: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return NewConsole(port), nil
}
