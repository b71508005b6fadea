package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

type readStep struct {
	line string
	err  error
}

// scriptConn replays reads, then reports no data until closed.
type scriptConn struct {
	mu     sync.Mutex
	steps  []readStep
	closed bool
}

func newScriptConn(steps ...readStep) *scriptConn {
	return &scriptConn{steps: steps}
}

func (c *scriptConn) ReadLine(time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false, ErrConnClosed
	}
	if len(c.steps) == 0 {
		return "", false, nil
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	if step.err != nil {
		return "", false, step.err
	}
	return step.line, true, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// blockingConn blocks every read until closed.
type blockingConn struct {
	once sync.Once
	done chan struct{}
}

func (c *blockingConn) ReadLine(time.Duration) (string, bool, error) {
	<-c.done
	return "", false, ErrConnClosed
}

func (c *blockingConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

var errOpen = errors.New("device busy")

// scriptTransport hands out the scripted open results in order; nil conns
// mean a failed open.
type scriptTransport struct {
	mu    sync.Mutex
	conns []ports.Conn
	opens int
}

func (t *scriptTransport) Name() string { return "script" }

func (t *scriptTransport) Open(context.Context, string, ports.TransportParams) (ports.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if len(t.conns) == 0 {
		return nil, errOpen
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	if c == nil {
		return nil, errOpen
	}
	return c, nil
}

type probingTransport struct {
	*scriptTransport
	mu      sync.Mutex
	visible []bool
}

func (t *probingTransport) Enumerable(string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.visible) == 0 {
		return true, nil
	}
	v := t.visible[0]
	t.visible = t.visible[1:]
	return v, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	idle   time.Duration
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	if d != r.idle {
		r.mu.Lock()
		r.delays = append(r.delays, d)
		r.mu.Unlock()
	}
	return ctx.Err() == nil
}
