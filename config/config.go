// Package config loads firmware-loader settings from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-smartcoaster/logging"
	"github.com/moffa90/go-smartcoaster/protocol"
	"github.com/moffa90/go-smartcoaster/transport"
)

// Config holds the host settings. Command line flags override file values.
type Config struct {
	// Port is the serial device; empty means find it by USB ID
	Port string `yaml:"port" toml:"port"`

	Baud         int           `yaml:"baud" toml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	StartupDelay time.Duration `yaml:"startup_delay" toml:"startup_delay"`
	LogLevel     string        `yaml:"log_level" toml:"log_level"`

	// RateLimit caps writes in bytes per second; 0 disables pacing
	RateLimit int64 `yaml:"rate_limit" toml:"rate_limit"`

	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
	ChunkSize  int `yaml:"chunk_size" toml:"chunk_size"`

	// ImageVersion is announced in ReadyToDownload, e.g. "1.4.2"
	ImageVersion string `yaml:"image_version" toml:"image_version"`

	USB USB `yaml:"usb" toml:"usb"`
}

// USB identifies the coaster when Port is empty.
type USB struct {
	VID uint16 `yaml:"vid" toml:"vid"`
	PID uint16 `yaml:"pid" toml:"pid"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Baud:         transport.DefaultBaudRate,
		ReadTimeout:  transport.DefaultReadTimeout,
		StartupDelay: 100 * time.Millisecond,
		LogLevel:     logging.DefaultLevel,
		BufferSize:   protocol.DefaultBufferSize,
		ChunkSize:    protocol.ChunkSize,
		ImageVersion: "0.0.0",
		USB: USB{
			VID: protocol.USBVendorID,
			PID: protocol.USBProductID,
		},
	}
}

// Load reads path on top of the defaults. The format is chosen by extension:
// .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("config load failed (%s): unsupported format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.StartupDelay < 0 {
		return fmt.Errorf("startup_delay cannot be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if _, _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ChunkSize <= 0 || c.ChunkSize >= protocol.MaxPayloadSize {
		return fmt.Errorf("chunk_size must be between 1 and %d", protocol.MaxPayloadSize-1)
	}
	if c.BufferSize <= c.ChunkSize || c.BufferSize > protocol.MaxFrameSize {
		return fmt.Errorf("buffer_size must be larger than chunk_size (%d) and at most %d", c.ChunkSize, protocol.MaxFrameSize)
	}
	if _, err := c.Version(); err != nil {
		return err
	}
	return nil
}

// Version parses ImageVersion.
func (c *Config) Version() (protocol.VersionNumber, error) {
	v, err := protocol.ParseVersion(c.ImageVersion)
	if err != nil {
		return protocol.VersionNumber{}, fmt.Errorf("image_version: %w", err)
	}
	return v, nil
}
