package transport

import (
	"errors"
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// ErrPortNotFound is returned by FindPort when no matching device is attached.
var ErrPortNotFound = errors.New("no matching serial port found")

// PortInfo describes an attached serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          uint16
	PID          uint16
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%04x:%04x]", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.SerialNumber != "" {
		s += " (" + p.SerialNumber + ")"
	}
	return s
}

// ListPorts returns the serial ports currently attached.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, portInfo(d))
	}
	return ports, nil
}

// FindPort returns the first USB serial port with the given vendor and product IDs.
func FindPort(vid, pid uint16) (PortInfo, error) {
	ports, err := ListPorts()
	if err != nil {
		return PortInfo{}, err
	}
	if p, ok := matchPort(ports, vid, pid); ok {
		return p, nil
	}
	return PortInfo{}, fmt.Errorf("%w: %04x:%04x", ErrPortNotFound, vid, pid)
}

func matchPort(ports []PortInfo, vid, pid uint16) (PortInfo, bool) {
	for _, p := range ports {
		if p.IsUSB && p.VID == vid && p.PID == pid {
			return p, true
		}
	}
	return PortInfo{}, false
}

func portInfo(d *enumerator.PortDetails) PortInfo {
	info := PortInfo{
		Name:         d.Name,
		IsUSB:        d.IsUSB,
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
	}
	if d.IsUSB {
		info.VID = parseHexID(d.VID)
		info.PID = parseHexID(d.PID)
	}
	return info
}

// parseHexID parses the hex VID/PID strings reported by the enumerator.
func parseHexID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
