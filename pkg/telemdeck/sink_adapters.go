package telemdeck

import (
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("telemdeck: channel sink closed")

// BatchHandler is invoked once per tick with the batch produced.
type BatchHandler func(Batch) error

// NewCallbackSink adapts a BatchHandler into a Sink so callers can plug plain
// functions, e.g. a dashboard redraw.
func NewCallbackSink(name string, fn BatchHandler) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the
// read-only channel and a close function to call during shutdown. Writes
// block while the buffer is full.
func NewChannelSink(name string, buffer int) (Sink, <-chan Batch, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Batch, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   BatchHandler
}

func (s *callbackSink) WriteBatch(b Batch) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(b)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan Batch
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(b Batch) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- b:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending writers first, then closes the data channel once no
// writer holds the read lock.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
