package transport

import "time"

const (
	DefaultInitialBackoff    = time.Second
	DefaultBackoffMultiplier = 1.5
	DefaultMaxBackoff        = 30 * time.Second
)

// Backoff yields exponentially growing retry delays capped at max. It is not
// safe for concurrent use; the reader goroutine owns it.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

func NewBackoff(initial time.Duration, multiplier float64, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if initial > max {
		initial = max
	}
	return &Backoff{initial: initial, max: max, multiplier: multiplier, current: initial}
}

// Next returns the delay to wait now and grows the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max || next < b.current {
		next = b.max
	}
	b.current = next
	return d
}

// Peek returns the delay Next would hand out without advancing.
func (b *Backoff) Peek() time.Duration { return b.current }

func (b *Backoff) Reset() { b.current = b.initial }
