package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the musicbox daemon.
//
// The config file is the primary configuration surface; flags exist only for
// small overrides. Defaults and validation live here so the rest of the code
// can assume a well-formed config.
type Config struct {
	// DataDir is the media root. Each playlist maps to a subdirectory.
	DataDir string `yaml:"data_dir"`

	// Buttons are the GPIO push buttons and their command assignments.
	Buttons []ButtonConfig `yaml:"buttons"`

	// Playlists declares the stored playlists, in display order.
	Playlists []PlaylistConfig `yaml:"playlists"`

	// Keyboard lists Linux input devices to watch for media keys.
	Keyboard KeyboardConfig `yaml:"keyboard"`

	// Input holds the shared button timing knobs.
	Input InputConfig `yaml:"input"`

	// Volume holds the step size and the power-on level.
	Volume VolumeConfig `yaml:"volume"`

	// Server configures the HTTP status/websocket endpoint.
	Server ServerConfig `yaml:"server"`

	// IPC configures the local control socket.
	IPC IPCConfig `yaml:"ipc"`

	// Signals maps SIGUSR1/SIGUSR2 to commands.
	Signals SignalsConfig `yaml:"signals"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CommandSpec is a command as written in config: a type discriminator plus
// the StartPlaylist fields. It reuses the wire discriminators so a command
// reads the same in YAML, IPC and websocket payloads.
type CommandSpec struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name,omitempty"`
	Force bool   `yaml:"force,omitempty"`
}

// Command resolves the configured action into a concrete Command.
func (s CommandSpec) Command() (Command, error) {
	switch s.Type {
	case "previous_track":
		return PreviousTrack{}, nil
	case "next_track":
		return NextTrack{}, nil
	case "play_pause":
		return PlayPause{}, nil
	case "volume_up":
		return VolumeUp{}, nil
	case "volume_down":
		return VolumeDown{}, nil
	case "start_playlist":
		if s.Name == "" {
			return nil, errors.New("start_playlist requires a name")
		}
		return StartPlaylist{Name: s.Name, Force: s.Force}, nil
	case "shutdown":
		return Shutdown{}, nil
	case "reload":
		return Reload{}, nil
	case "status":
		return Status{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", s.Type)
	}
}

type ButtonConfig struct {
	Pin    int          `yaml:"pin"`
	Pull   string       `yaml:"pull,omitempty"`   // "up", "down" or "none"
	Active string       `yaml:"active,omitempty"` // "high" or "low"
	Click  CommandSpec  `yaml:"click"`
	Hold   *CommandSpec `yaml:"hold,omitempty"`
}

func (b ButtonConfig) pull() Pull {
	switch b.Pull {
	case "down":
		return PullDown
	case "none":
		return PullNone
	default:
		return PullUp
	}
}

// activeLevel is the electrical level that means "pressed".
func (b ButtonConfig) activeLevel() bool {
	return b.Active == "high"
}

type PlaylistConfig struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title,omitempty"`
}

func (p PlaylistConfig) title() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Name
}

type KeyboardConfig struct {
	Devices []string `yaml:"devices,omitempty"`
}

type InputConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
	HoldMS     int `yaml:"hold_ms"`
}

func (i InputConfig) Timing() InputTiming {
	return InputTiming{
		Debounce: time.Duration(i.DebounceMS) * time.Millisecond,
		Hold:     time.Duration(i.HoldMS) * time.Millisecond,
	}
}

type VolumeConfig struct {
	Step    float64 `yaml:"step"`
	Initial float64 `yaml:"initial"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type SignalsConfig struct {
	USR1 *CommandSpec `yaml:"usr1,omitempty"`
	USR2 *CommandSpec `yaml:"usr2,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: "/var/lib/musicboxd/media",
		Input: InputConfig{
			DebounceMS: 50,
			HoldMS:     600,
		},
		Volume: VolumeConfig{
			Step:    0.05,
			Initial: 0.5,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":3001",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/musicboxd.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true), and
// trailing documents are an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// A second Decode must hit EOF. Anything else, including a decode
	// error from KnownFields, means a trailing document was present.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// Validate checks config invariants and returns a user-friendly error
// wrapping ErrConfigInvalid. Call after defaults + file + overrides.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}

	pins := make(map[int]bool, len(c.Buttons))
	for i, b := range c.Buttons {
		if b.Pin < 0 {
			return fmt.Errorf("buttons[%d].pin must be >= 0", i)
		}
		if pins[b.Pin] {
			return fmt.Errorf("buttons[%d]: pin %d assigned twice", i, b.Pin)
		}
		pins[b.Pin] = true

		switch b.Pull {
		case "", "up", "down", "none":
		default:
			return fmt.Errorf("buttons[%d].pull must be up, down or none", i)
		}
		switch b.Active {
		case "", "high", "low":
		default:
			return fmt.Errorf("buttons[%d].active must be high or low", i)
		}
		if _, err := b.Click.Command(); err != nil {
			return fmt.Errorf("buttons[%d].click: %v", i, err)
		}
		if b.Hold != nil {
			if _, err := b.Hold.Command(); err != nil {
				return fmt.Errorf("buttons[%d].hold: %v", i, err)
			}
		}
	}

	names := make(map[string]bool, len(c.Playlists))
	for i, p := range c.Playlists {
		if p.Name == "" {
			return fmt.Errorf("playlists[%d].name must not be empty", i)
		}
		if strings.ContainsRune(p.Name, os.PathSeparator) {
			return fmt.Errorf("playlists[%d].name must not contain path separators", i)
		}
		if names[p.Name] {
			return fmt.Errorf("playlists[%d]: name %q declared twice", i, p.Name)
		}
		names[p.Name] = true
	}

	for i, dev := range c.Keyboard.Devices {
		if dev == "" {
			return fmt.Errorf("keyboard.devices[%d] is empty", i)
		}
	}

	if c.Input.DebounceMS < 0 {
		return errors.New("input.debounce_ms must be >= 0")
	}
	if c.Input.HoldMS <= 0 {
		return errors.New("input.hold_ms must be > 0")
	}

	if c.Volume.Step <= 0 || c.Volume.Step > 1 {
		return errors.New("volume.step must be in (0, 1]")
	}
	if c.Volume.Initial < 0 || c.Volume.Initial > 1 {
		return errors.New("volume.initial must be in [0, 1]")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr must not be empty when server.enabled")
	}

	if sp := c.Signals.USR1; sp != nil {
		if _, err := sp.Command(); err != nil {
			return fmt.Errorf("signals.usr1: %v", err)
		}
	}
	if sp := c.Signals.USR2; sp != nil {
		if _, err := sp.Command(); err != nil {
			return fmt.Errorf("signals.usr2: %v", err)
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME. Handy for config
// values like data_dir.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
