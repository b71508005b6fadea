package transport

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.bug.st/serial"

	"github.com/ghalamif/telemdeck/internal/ports"
)

const DefaultBaudRate = 115200

// Serial opens local serial ports.
type Serial struct {
	list func() ([]string, error)
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

func NewSerial() *Serial {
	return &Serial{list: serial.GetPortsList, open: serial.Open}
}

func (s *Serial) Name() string { return "serial" }

// Enumerable reports whether the OS currently lists address as a port.
func (s *Serial) Enumerable(address string) (bool, error) {
	names, err := s.list()
	if err != nil {
		return false, err
	}
	return slices.Contains(names, address), nil
}

func (s *Serial) Open(_ context.Context, address string, params ports.TransportParams) (ports.Conn, error) {
	baud := params.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	p, err := s.open(address, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", address, err)
	}
	return &serialConn{port: p, buf: make([]byte, 512)}, nil
}

// ListPorts returns the serial ports visible to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

type serialConn struct {
	port serial.Port
	fr   framer
	buf  []byte
}

func (c *serialConn) ReadLine(timeout time.Duration) (string, bool, error) {
	if line, ok := c.fr.next(); ok {
		return line, true, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return "", false, err
		}
		n, err := c.port.Read(c.buf)
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			return "", false, nil
		}
		c.fr.feed(c.buf[:n])
		if line, ok := c.fr.next(); ok {
			return line, true, nil
		}
	}
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

var (
	_ ports.Transport = (*Serial)(nil)
	_ ports.Prober    = (*Serial)(nil)
)
