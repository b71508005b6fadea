package transport

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/telemdeck/internal/adapters/observability"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

const (
	DefaultReadTimeout = time.Second
	DefaultIdleSleep   = 50 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done; it reports whether the full
// delay elapsed.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Manager keeps a connection to one transport address alive and turns it into
// a lazy stream of lines. Transport failures never end the stream; only the
// context or the consumer can.
type Manager struct {
	transport ports.Transport
	address   string
	params    ports.TransportParams
	policy    ports.Policy
	prefix    string

	obs      ports.Observability
	sleep    SleepFunc
	onStatus func(string)
	onState  func(domain.ConnectionState)

	backoff *Backoff
	state   atomic.Int32

	mu   sync.Mutex
	conn ports.Conn
}

type Option func(*Manager)

func WithObservability(obs ports.Observability) Option {
	return func(m *Manager) {
		if obs != nil {
			m.obs = obs
		}
	}
}

// WithStatusHook receives every human readable status message.
func WithStatusHook(fn func(string)) Option {
	return func(m *Manager) { m.onStatus = fn }
}

// WithStateHook is called on every connection state change.
func WithStateHook(fn func(domain.ConnectionState)) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithSleeper(fn SleepFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// WithLinePrefix prepends prefix to lines that carry no protocol tag, so a
// bare instrument stream reads as data lines.
func WithLinePrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

func NewManager(t ports.Transport, address string, params ports.TransportParams, policy ports.Policy, opts ...Option) *Manager {
	if policy.ReadTimeout <= 0 {
		policy.ReadTimeout = DefaultReadTimeout
	}
	if policy.IdleSleep <= 0 {
		policy.IdleSleep = DefaultIdleSleep
	}
	if params.ReadTimeout <= 0 {
		params.ReadTimeout = policy.ReadTimeout
	}

	m := &Manager{
		transport: t,
		address:   address,
		params:    params,
		policy:    policy,
		obs:       observability.Nop{},
		sleep:     SleepContext,
		backoff:   NewBackoff(policy.InitialBackoff, policy.BackoffMultiplier, policy.MaxBackoff),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) Address() string { return m.address }

func (m *Manager) State() domain.ConnectionState {
	return domain.ConnectionState(m.state.Load())
}

// Lines connects, reads and reconnects until ctx is cancelled or the consumer
// stops ranging. The connection is closed when the sequence ends.
func (m *Manager) Lines(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		defer m.drop()
		for {
			conn, ok := m.connect(ctx)
			if !ok {
				return
			}
			if !m.pump(ctx, conn, yield) {
				return
			}
		}
	}
}

// ForceClose closes the live connection from another goroutine, which makes a
// blocked read return.
func (m *Manager) ForceClose() {
	m.drop()
}

func (m *Manager) connect(ctx context.Context) (ports.Conn, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		m.setState(domain.Connecting)

		if visible, err := m.probe(); !visible {
			delay := m.backoff.Next()
			if err != nil {
				m.obs.LogError("transport_probe_failed", err, ports.Field{Key: "address", Value: m.address})
				m.status("Cannot list ports: %v. Retrying in %s...", err, delay)
			} else {
				m.status("Port %s not visible to OS. Retrying in %s...", m.address, delay)
			}
			if !m.sleep(ctx, delay) {
				return nil, false
			}
			continue
		}

		conn, err := m.transport.Open(ctx, m.address, m.params)
		if err != nil {
			delay := m.backoff.Next()
			m.obs.LogError("transport_open_failed", err,
				ports.Field{Key: "transport", Value: m.transport.Name()},
				ports.Field{Key: "address", Value: m.address},
				ports.Field{Key: "retry_in", Value: delay})
			m.status("Failed to connect to %s: %v. Retrying in %s...", m.address, err, delay)
			if !m.sleep(ctx, delay) {
				return nil, false
			}
			continue
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil, false
		}

		m.backoff.Reset()
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(domain.Connected)
		m.status("Connected to %s", m.address)
		return conn, true
	}
}

// pump reads until the connection fails (true: reconnect) or the stream is
// over (false).
func (m *Manager) pump(ctx context.Context, conn ports.Conn, yield func(string) bool) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		line, ok, err := conn.ReadLine(m.params.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			m.obs.LogError("transport_read_failed", err, ports.Field{Key: "address", Value: m.address})
			m.status("Lost connection or read error: %v", err)
			m.drop()
			m.obs.IncCounter(ports.MetricReconnects, 1)
			return true
		}
		if !ok {
			if !m.sleep(ctx, m.policy.IdleSleep) {
				return false
			}
			continue
		}
		if !yield(m.tag(line)) {
			return false
		}
	}
}

func (m *Manager) probe() (bool, error) {
	p, ok := m.transport.(ports.Prober)
	if !ok {
		return true, nil
	}
	return p.Enumerable(m.address)
}

func (m *Manager) tag(line string) string {
	if m.prefix == "" || strings.HasPrefix(line, "data:") || strings.HasPrefix(line, "info:") {
		return line
	}
	return m.prefix + line
}

func (m *Manager) drop() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.obs.LogError("transport_close_failed", err, ports.Field{Key: "address", Value: m.address})
		}
	}
	m.setState(domain.Disconnected)
}

func (m *Manager) setState(s domain.ConnectionState) {
	prev := domain.ConnectionState(m.state.Swap(int32(s)))
	m.obs.SetGauge(ports.MetricConnState, float64(s))
	if prev != s && m.onState != nil {
		m.onState(s)
	}
}

func (m *Manager) status(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.obs.LogInfo("transport_status", ports.Field{Key: "message", Value: msg})
	if m.onStatus != nil {
		m.onStatus(msg)
	}
}

// SleepContext waits for d unless ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
