package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// ErrStreamExhausted is returned when a one-shot stream is opened again.
var ErrStreamExhausted = errors.New("stream already consumed")

// Stream adapts any io.Reader source, such as the piped output of an external
// logger, into a transport.
type Stream struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
}

func NewStream(name string, open func(ctx context.Context) (io.ReadCloser, error)) *Stream {
	return &Stream{name: name, open: open}
}

// NewStdin reads standard input once; reconnects after EOF keep failing with
// ErrStreamExhausted.
func NewStdin() *Stream {
	var once sync.Once
	return NewStream("stdin", func(context.Context) (io.ReadCloser, error) {
		err := ErrStreamExhausted
		once.Do(func() { err = nil })
		if err != nil {
			return nil, err
		}
		return io.NopCloser(os.Stdin), nil
	})
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Open(ctx context.Context, _ string, _ ports.TransportParams) (ports.Conn, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	c := &streamConn{rc: rc, lines: make(chan string, 64), done: make(chan struct{})}
	go c.scan()
	return c, nil
}

type streamConn struct {
	rc    io.ReadCloser
	lines chan string
	done  chan struct{}
	once  sync.Once
	err   error
}

func (c *streamConn) scan() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.rc)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := cleanLine(sc.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.done:
			c.err = ErrConnClosed
			return
		}
	}
	c.err = sc.Err()
	if c.err == nil {
		c.err = io.EOF
	}
}

func (c *streamConn) ReadLine(timeout time.Duration) (string, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", false, c.err
		}
		return line, true, nil
	case <-t.C:
		return "", false, nil
	}
}

func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.rc.Close()
	})
	return err
}

var _ ports.Transport = (*Stream)(nil)
