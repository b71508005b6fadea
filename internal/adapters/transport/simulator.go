package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/telemdeck/internal/ports"
)

// ErrConnClosed is returned by reads on a connection closed locally.
var ErrConnClosed = errors.New("connection closed")

const DefaultSimInterval = time.Second

// Simulator produces fuel cell telemetry lines at a fixed interval, the same
// shape the bench firmware prints.
type Simulator struct {
	interval time.Duration
	seed     uint64
}

func NewSimulator(interval time.Duration, seed uint64) *Simulator {
	if interval <= 0 {
		interval = DefaultSimInterval
	}
	return &Simulator{interval: interval, seed: seed}
}

func (s *Simulator) Name() string { return "sim" }

func (s *Simulator) Open(_ context.Context, _ string, _ ports.TransportParams) (ports.Conn, error) {
	seed := s.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &simConn{
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
		interval: s.interval,
		next:     time.Now().Add(s.interval),
		closed:   make(chan struct{}),
	}, nil
}

type simConn struct {
	rng      *rand.Rand
	interval time.Duration
	next     time.Time
	tim      int
	di       int

	closed chan struct{}
	once   sync.Once
}

func (c *simConn) ReadLine(timeout time.Duration) (string, bool, error) {
	wait := time.Until(c.next)
	if wait > timeout {
		if !c.wait(timeout) {
			return "", false, ErrConnClosed
		}
		return "", false, nil
	}
	if !c.wait(wait) {
		return "", false, ErrConnClosed
	}
	c.next = c.next.Add(c.interval)
	if now := time.Now(); c.next.Before(now) {
		c.next = now.Add(c.interval)
	}
	return c.generate(), true, nil
}

func (c *simConn) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.closed:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.closed:
		return false
	case <-t.C:
		return true
	}
}

func (c *simConn) generate() string {
	c.tim++
	if c.rng.IntN(5) == 3 {
		switch a := c.rng.IntN(26); {
		case a >= 3 && a <= 7:
			c.di = 0x1
		case a > 7 && a <= 10:
			c.di = 0x3
		case a > 10 && a <= 13:
			c.di = 0x8
		case a > 13 && a <= 15:
			c.di = 0x9
		case a > 15 && a <= 18:
			c.di = 0xb
		default:
			c.di = 0x0
		}
	}
	volt := func() float64 { return c.rng.Float64()*2 + 7 }
	current := func() float64 { return c.rng.Float64()*20 + 50 }
	power := func() float64 { return current() * volt() * 0.1 }

	return fmt.Sprintf("data: Tim:%d Di:%#x Pwm:0 Vbat:%.2f Iout:%.2f Pout:%.2f Vfc:%.2f Pfc:%.2f PfcDes:%.2f Tfc:%d",
		c.tim, c.di, volt(), current(), power(), volt(), power(), power(), 40+c.rng.IntN(41))
}

func (c *simConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

var _ ports.Transport = (*Simulator)(nil)
