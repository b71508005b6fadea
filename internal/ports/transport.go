package ports

import (
	"context"
	"time"
)

// TransportParams are the link settings handed to Transport.Open.
type TransportParams struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Transport opens connections to a line-oriented character source
// (serial port, TCP bridge, OPC UA node, simulator, stdin).
type Transport interface {
	Open(ctx context.Context, address string, params TransportParams) (Conn, error)
	Name() string
}

// Conn is an open connection. ReadLine returns ok=false with a nil error when
// no complete line arrived within timeout. Partial lines are never returned.
type Conn interface {
	ReadLine(timeout time.Duration) (line string, ok bool, err error)
	Close() error
}

// Prober is implemented by transports that can tell whether an address is
// currently visible to the host before trying to open it.
type Prober interface {
	Enumerable(address string) (bool, error)
}
