package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// TCP reads lines from serial-over-TCP bridges (host:port).
type TCP struct {
	dialer net.Dialer
}

func NewTCP() *TCP {
	return &TCP{dialer: net.Dialer{Timeout: 5 * time.Second}}
}

func (t *TCP) Name() string { return "tcp" }

func (t *TCP) Open(ctx context.Context, address string, _ ports.TransportParams) (ports.Conn, error) {
	c, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &tcpConn{conn: c, buf: make([]byte, 4096)}, nil
}

type tcpConn struct {
	conn net.Conn
	fr   framer
	buf  []byte
}

func (c *tcpConn) ReadLine(timeout time.Duration) (string, bool, error) {
	if line, ok := c.fr.next(); ok {
		return line, true, nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", false, err
	}
	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.fr.feed(c.buf[:n])
			if line, ok := c.fr.next(); ok {
				return line, true, nil
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", false, nil
			}
			return "", false, err
		}
	}
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

var _ ports.Transport = (*TCP)(nil)
