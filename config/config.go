package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kabbura/asymFreeRTOS/core"
	"github.com/Kabbura/asymFreeRTOS/protocol"
)

// Modes a host process can run in
const (
	ModeSim       = "sim"       // Both cores in this process
	ModeRequester = "requester" // Task core, designated table initializer
	ModeServer    = "server"    // Peer core serving requests
)

// Config describes one core's process
type Config struct {
	Mode   string `json:"mode"`
	Region string `json:"region"` // Mapped file shared by both processes; empty uses process memory

	Tasks       int `json:"tasks"`
	TaskDelayMS int `json:"task_delay_ms"`

	PollIntervalUS    int `json:"poll_interval_us"`
	MaxPollIntervalUS int `json:"max_poll_interval_us"`
	SubmitTimeoutMS   int `json:"submit_timeout_ms"` // 0 waits indefinitely

	ServeWorkMS int `json:"serve_work_ms"` // Simulated work per request on the server

	Console     string `json:"console"` // Serial device for result lines; empty prints to stdout
	ConsoleBaud int    `json:"console_baud"`

	Debug bool `json:"debug"`
}

// LoadConfig parses a JSON configuration and fills in defaults.
// The result is not validated: callers apply their overrides first and
// then call Validate.
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *Config) {
	if config.Mode == "" {
		config.Mode = ModeSim
	}
	if config.Tasks == 0 {
		config.Tasks = protocol.SlotCount
	}
	if config.TaskDelayMS == 0 {
		config.TaskDelayMS = 30 // 3000 ticks / speedy 100
	}
	if config.PollIntervalUS == 0 {
		config.PollIntervalUS = 50
	}
	if config.MaxPollIntervalUS == 0 {
		config.MaxPollIntervalUS = 5000
	}
	if config.ConsoleBaud == 0 {
		config.ConsoleBaud = 115200
	}
}

// Validate rejects settings the slot table cannot honor
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSim, ModeRequester, ModeServer:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Tasks < 1 || c.Tasks > protocol.SlotCount {
		return fmt.Errorf("tasks must be between 1 and %d, got %d", protocol.SlotCount, c.Tasks)
	}
	if c.Mode != ModeSim && c.Region == "" {
		return fmt.Errorf("mode %s needs a shared region file", c.Mode)
	}
	if c.PollIntervalUS < 0 || c.MaxPollIntervalUS < c.PollIntervalUS {
		return fmt.Errorf("bad poll interval range %d..%d us", c.PollIntervalUS, c.MaxPollIntervalUS)
	}
	if c.SubmitTimeoutMS < 0 || c.ServeWorkMS < 0 || c.TaskDelayMS < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// DefaultConfig returns the in-process simulation of the original board:
// seven tasks, 30 ms between requests, no submit timeout
func DefaultConfig() *Config {
	config := &Config{Mode: ModeSim}
	applyDefaults(config)
	return config
}

// ChannelConfig converts the polling settings for core.NewChannel
func (c *Config) ChannelConfig() core.ChannelConfig {
	return core.ChannelConfig{
		PollInterval:    time.Duration(c.PollIntervalUS) * time.Microsecond,
		MaxPollInterval: time.Duration(c.MaxPollIntervalUS) * time.Microsecond,
		Timeout:         time.Duration(c.SubmitTimeoutMS) * time.Millisecond,
	}
}

// ServerConfig converts the polling settings for core.NewServer
func (c *Config) ServerConfig() core.ServerConfig {
	return core.ServerConfig{
		IdleInterval:    time.Duration(c.PollIntervalUS) * time.Microsecond,
		MaxIdleInterval: time.Duration(c.MaxPollIntervalUS) * time.Microsecond,
	}
}

// TaskDelay is the pause between a task's requests
func (c *Config) TaskDelay() time.Duration {
	return time.Duration(c.TaskDelayMS) * time.Millisecond
}

// ServeWork is the simulated service time per request
func (c *Config) ServeWork() time.Duration {
	return time.Duration(c.ServeWorkMS) * time.Millisecond
}
