// Package config provides JSON emulator configuration.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
	"github.com/sarchlab/emilator/loader"
)

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel        = "EMILATOR_LOG_LEVEL"
	EnvMaxInstructions = "EMILATOR_MAX_INSTRUCTIONS"
	EnvEndianness      = "EMILATOR_ENDIANNESS"
)

// RegisterConfig declares a register and its initial value.
type RegisterConfig struct {
	Name il.Register `json:"name"`

	// Size is the register width in bytes. Default: 8.
	Size int `json:"size,omitempty"`

	Value uint64 `json:"value"`
}

// SegmentConfig describes a memory segment mapped before execution.
type SegmentConfig struct {
	Base  uint64           `json:"base"`
	Size  uint64           `json:"size"`
	Flags emu.SegmentFlags `json:"flags"`
}

// StackConfig describes the stack mapped for PUSH and POP.
type StackConfig struct {
	// Top is the address one past the highest stack byte. When 0, a
	// conventional top for the address size is used.
	Top uint64 `json:"top,omitempty"`

	// Size is the stack size in bytes. A size of 0 maps no stack.
	Size uint64 `json:"size"`
}

// Config holds everything needed to set up an Emulator.
type Config struct {
	Arch il.Arch `json:"arch"`

	Registers []RegisterConfig `json:"registers,omitempty"`
	Segments  []SegmentConfig  `json:"segments,omitempty"`
	Stack     StackConfig      `json:"stack"`

	// MaxInstructions bounds Run. 0 means no limit.
	MaxInstructions uint64 `json:"max_instructions"`

	// LogLevel is "trace", "debug", "info", "warn" or "error".
	// Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config for il.DefaultArch with a 64KB stack.
func DefaultConfig() *Config {
	return &Config{
		Arch:     il.DefaultArch(),
		Stack:    StackConfig{Size: 64 * 1024},
		LogLevel: "info",
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from EMILATOR_* environment variables.
func (c *Config) ApplyEnv() error {
	if env.Has(EnvLogLevel) {
		c.LogLevel = env.Str(EnvLogLevel)
	}

	if env.Has(EnvMaxInstructions) {
		n := env.Int(EnvMaxInstructions, -1)
		if n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q",
				EnvMaxInstructions, env.Str(EnvMaxInstructions))
		}
		c.MaxInstructions = uint64(n)
	}

	if env.Has(EnvEndianness) {
		e, err := il.ParseEndianness(env.Str(EnvEndianness))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEndianness, err)
		}
		c.Arch.Endianness = e
	}

	return nil
}

// Validate checks that the configuration can build an Emulator.
func (c *Config) Validate() error {
	switch c.Arch.AddressSize {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("arch.address_size must be 1, 2, 4 or 8, got %d", c.Arch.AddressSize)
	}

	for _, r := range c.Registers {
		if r.Name == "" {
			return fmt.Errorf("register name must not be empty")
		}
		if r.Size != 0 {
			if err := emu.CheckWidth(r.Size); err != nil {
				return fmt.Errorf("register %s: %w", r.Name, err)
			}
		}
	}

	for i, s := range c.Segments {
		if s.Size == 0 {
			return fmt.Errorf("segments[%d].size must be > 0", i)
		}
	}

	if c.Stack.Size > 0 && c.Arch.StackPointer == "" {
		return fmt.Errorf("stack requires arch.stack_pointer")
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	out := *c
	out.Registers = append([]RegisterConfig(nil), c.Registers...)
	out.Segments = append([]SegmentConfig(nil), c.Segments...)
	return &out
}

// ParseLevel parses a log level name. "trace" maps to emu.LevelTrace and
// the empty string to info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "trace":
		return emu.LevelTrace, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Build validates the Config and returns an Emulator with the configured
// registers, segments and stack. opts are applied after the configured
// architecture and instruction limit, so they take precedence.
//
// Segments and the stack are only mapped on the built-in machine; with
// emu.WithState, only register values are written to the host state.
func (c *Config) Build(opts ...emu.EmulatorOption) (*emu.Emulator, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	all := append([]emu.EmulatorOption{
		emu.WithArch(c.Arch),
		emu.WithMaxInstructions(c.MaxInstructions),
	}, opts...)
	e := emu.NewEmulator(all...)

	m := e.Machine()

	for _, r := range c.Registers {
		if m != nil {
			size := r.Size
			if size == 0 {
				size = 8
			}
			m.RegFile().Declare(r.Name, size)
		}
		if err := e.SetRegisterValue(r.Name, r.Value); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.Name, err)
		}
	}

	if m == nil {
		return e, nil
	}

	for _, s := range c.Segments {
		if _, err := m.Memory().Map(s.Base, s.Size, s.Flags); err != nil {
			return nil, fmt.Errorf("failed to map segment: %w", err)
		}
	}

	if c.Stack.Size > 0 {
		top := c.Stack.Top
		if top == 0 {
			top = loader.DefaultStackTop(e.Arch().AddressSize)
		}
		if err := loader.MapStack(e, top, c.Stack.Size); err != nil {
			return nil, err
		}
	}

	return e, nil
}
