// Package config loads netbatchd settings. Values are resolved in order of
// increasing precedence: defaults, TOML file, NETBATCH_* environment
// variables, explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cyberinferno/netbatch/batching"
	"github.com/cyberinferno/netbatch/logger"
)

// Config holds all daemon settings.
type Config struct {
	// Listen is the transport address, "host:port".
	Listen string
	// Batching puts connections in batched mode.
	Batching bool
	// TickInterval is the flush period.
	TickInterval time.Duration

	// MaxPacketSize is the reliable channel's packet size.
	MaxPacketSize int
	// UnreliableMaxPacketSize is the unreliable channel's packet size.
	UnreliableMaxPacketSize int
	// BatchThreshold caps batches on both channels; 0 uses the packet size.
	BatchThreshold int
	// MaxFrameSize caps received frames.
	MaxFrameSize int

	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	TombstoneTTL time.Duration

	// MetricsAddr serves /metrics when not empty.
	MetricsAddr string

	LogLevel  string
	LogPretty bool
	// LogDir switches logging to daily files in this directory.
	LogDir string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Listen:                  "127.0.0.1:7777",
		Batching:                true,
		TickInterval:            50 * time.Millisecond,
		MaxPacketSize:           64 * 1024,
		UnreliableMaxPacketSize: 1200,
		MaxFrameSize:            16 * 1024 * 1024,
		WriteTimeout:            10 * time.Second,
		TombstoneTTL:            30 * time.Second,
		MetricsAddr:             "127.0.0.1:9477",
		LogLevel:                "info",
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}

	// A packet must at least hold a batch header and one empty message.
	minPacket := batching.BatchSize(0)
	if c.MaxPacketSize < minPacket {
		errs = append(errs, fmt.Errorf("max packet size must be at least %d, got %d", minPacket, c.MaxPacketSize))
	}

	if c.UnreliableMaxPacketSize < minPacket {
		errs = append(errs, fmt.Errorf("unreliable max packet size must be at least %d, got %d", minPacket, c.UnreliableMaxPacketSize))
	}

	if c.BatchThreshold < 0 {
		errs = append(errs, fmt.Errorf("batch threshold must not be negative, got %d", c.BatchThreshold))
	}

	// The threshold applies to both channels, so it must fit the smaller packet.
	if limit := min(c.MaxPacketSize, c.UnreliableMaxPacketSize); c.BatchThreshold > limit {
		errs = append(errs, fmt.Errorf("batch threshold %d exceeds packet size %d", c.BatchThreshold, limit))
	}

	if c.MaxFrameSize < c.MaxPacketSize || c.MaxFrameSize < c.UnreliableMaxPacketSize {
		errs = append(errs, fmt.Errorf("max frame size %d is below a packet size", c.MaxFrameSize))
	}

	if c.WriteTimeout < 0 || c.ReadTimeout < 0 || c.TombstoneTTL < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// configSetter applies values while respecting flag precedence. It only
// applies a value if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
