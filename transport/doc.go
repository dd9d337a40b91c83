// Package transport connects the bootloader and device packages to real links.
//
// OpenSerial opens a USB CDC or UART port with the settings the coaster
// bootloader expects (115200 8N1) and a read timeout, so reads return (0, nil)
// when the device is silent. FindPort locates the coaster by USB VID:PID.
// NewPacedWriter limits write throughput for links that drop data when flooded.
package transport
