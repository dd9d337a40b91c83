package bootloader

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-smartcoaster/protocol"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called as chunks are sent (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger logrus.FieldLogger

	// ReadTimeout is how long the device may stay silent before the transfer fails
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for write operations
	WriteTimeout time.Duration

	// StartupDelay is waited before the first Hello.
	// Default is 100ms, enough for a freshly enumerated USB CDC port.
	StartupDelay time.Duration

	// CommandDelay is waited after every frame written (optional)
	CommandDelay time.Duration

	// BufferSize is the session's receive and transmit capacity
	BufferSize int

	// ChunkSize is the largest chunk payload the host will serve.
	// Default is protocol.ChunkSize (1024 bytes)
	ChunkSize int

	// ReadBufferSize is the size of a single read from the device
	ReadBufferSize int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		StartupDelay:   100 * time.Millisecond,
		BufferSize:     protocol.DefaultBufferSize,
		ChunkSize:      protocol.ChunkSize,
		ReadBufferSize: 512,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	prog := bootloader.New(device,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger used for handshake and transfer events.
// Both *logrus.Logger and *logrus.Entry satisfy logrus.FieldLogger.
//
// Example:
//
//	log := logrus.New()
//	log.SetLevel(logrus.DebugLevel)
//	prog := bootloader.New(device, bootloader.WithLogger(log))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets both read and write timeouts.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithTimeout(10*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
		c.WriteTimeout = timeout
	}
}

// WithReadTimeout sets the read timeout.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithReadTimeout(5*time.Second))
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithWriteTimeout(5*time.Second))
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// WithStartupDelay sets the delay before the first Hello. Zero disables it.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithStartupDelay(0))
func WithStartupDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.StartupDelay = delay
		}
	}
}

// WithCommandDelay sets a pause after every frame written, for slow links.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithCommandDelay(2*time.Millisecond))
func WithCommandDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.CommandDelay = delay
		}
	}
}

// WithBufferSize sets the session buffer capacity.
// It must hold the largest ChunkResp frame; Program fails otherwise.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithBufferSize(8192))
func WithBufferSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= protocol.MaxFrameSize {
			c.BufferSize = size
		}
	}
}

// WithChunkSize sets the largest chunk payload the host will serve.
// Default is 1024 bytes.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithChunkSize(256))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size < protocol.MaxPayloadSize {
			c.ChunkSize = size
		}
	}
}

// WithReadBufferSize sets how many bytes are requested per read.
//
// Example:
//
//	prog := bootloader.New(device, bootloader.WithReadBufferSize(64))
func WithReadBufferSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ReadBufferSize = size
		}
	}
}
