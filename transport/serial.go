package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Serial defaults used by the coaster bootloader.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 5 * time.Second
)

// SerialConfig describes a serial port to open.
type SerialConfig struct {
	// Name is the device path, e.g. /dev/ttyACM0 or COM3
	Name string

	// BaudRate defaults to DefaultBaudRate
	BaudRate int

	// ReadTimeout is how long a Read waits before returning (0, nil).
	// Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
}

func (c SerialConfig) mode() *serial.Mode {
	baud := c.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func (c SerialConfig) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return c.ReadTimeout
}

// SerialPort is an open serial port. It implements io.ReadWriteCloser.
type SerialPort struct {
	port serial.Port
	name string
}

// OpenSerial opens the port described by cfg and discards any bytes the device
// sent before it was opened.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("serial: no port name")
	}

	port, err := serial.Open(cfg.Name, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.Name, err)
	}
	if err := port.SetReadTimeout(cfg.readTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to flush %s: %w", cfg.Name, err)
	}

	return &SerialPort{port: port, name: cfg.Name}, nil
}

// Name returns the device path.
func (p *SerialPort) Name() string { return p.name }

func (p *SerialPort) Read(b []byte) (int, error) { return p.port.Read(b) }

func (p *SerialPort) Write(b []byte) (int, error) { return p.port.Write(b) }

// Close closes the port.
func (p *SerialPort) Close() error { return p.port.Close() }
