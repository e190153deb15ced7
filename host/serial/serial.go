// Package serial carries task result lines to the board console over a
// serial port. The console is write-only: nothing is read back.
package serial

import (
	"bytes"
	"io"
	"sync"
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the board's console UART
	Baud int
}

// DefaultConfig returns the console configuration of the dev board
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   115200,
	}
}

// Console buffers output and hands the port one complete line per write,
// with LF expanded to CRLF for terminal emulators. Lines written by
// concurrent tasks never interleave.
type Console struct {
	mu      sync.Mutex
	port    io.WriteCloser
	pending []byte
	lines   uint64
}

// NewConsole wraps an open port
func NewConsole(port io.WriteCloser) *Console {
	return &Console{port: port}
}

// Write buffers p and sends every line it completes
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		line := c.pending[:i]
		if err := c.send(line, true); err != nil {
			return len(p), err
		}
		c.pending = append(c.pending[:0], c.pending[i+1:]...)
		c.lines++
	}
	return len(p), nil
}

// Flush sends a trailing partial line, if any
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Close flushes pending output and closes the port
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.flushLocked()
	if cerr := c.port.Close(); err == nil {
		err = cerr
	}
	return err
}

// Lines returns the number of complete lines sent
func (c *Console) Lines() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

func (c *Console) flushLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.send(c.pending, false); err != nil {
		return err
	}
	c.pending = c.pending[:0]
	return nil
}

func (c *Console) send(line []byte, eol bool) error {
	out := make([]byte, 0, len(line)+2)
	out = append(out, bytes.TrimSuffix(line, []byte("\r"))...)
	if eol {
		out = append(out, '\r', '\n')
	}
	_, err := c.port.Write(out)
	return err
}
