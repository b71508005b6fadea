package telemdeck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/telemdeck/internal/adapters/sessionlog"
)

type scriptConn struct {
	lines []string
	err   error

	mu     sync.Mutex
	closed bool
}

func (c *scriptConn) ReadLine(time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false, errors.New("closed")
	}
	if len(c.lines) > 0 {
		line := c.lines[0]
		c.lines = c.lines[1:]
		return line, true, nil
	}
	if c.err != nil {
		return "", false, c.err
	}
	c.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	c.mu.Lock()
	return "", false, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// scriptTransport hands out conns in order; the last one is reused.
type scriptTransport struct {
	mu    sync.Mutex
	conns []*scriptConn
	opens int
}

func (t *scriptTransport) Name() string { return "script" }

func (t *scriptTransport) Open(context.Context, string, TransportParams) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := min(t.opens, len(t.conns)-1)
	t.opens++
	return t.conns[idx], nil
}

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)            {}
func (s *stubObservability) LogError(string, error, ...Field)    {}
func (s *stubObservability) LogCritical(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)          {}
func (s *stubObservability) ObserveLatency(string, float64)      {}
func (s *stubObservability) SetGauge(string, float64)            {}
func (s *stubObservability) RecordMalformed(Record)              {}

type stubSink struct{}

func (s *stubSink) WriteBatch(Batch) error { return nil }
func (s *stubSink) Name() string           { return "stub" }

func fastSleep(ctx context.Context, _ time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Millisecond):
		return true
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(s ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Transport.Address = "bench"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Session.JoinTimeout = 200 * time.Millisecond
	return cfg
}

func TestSessionReconnectEndToEnd(t *testing.T) {
	tr := &scriptTransport{conns: []*scriptConn{
		{lines: []string{"data:Tim:1 Di:0x0 Vbat:8.10", "info:heartbeat"}, err: errors.New("device unplugged")},
		{},
	}}
	rec := &stateRecorder{}
	var (
		statusMu  sync.Mutex
		connected int
	)
	countConnected := func(msg string) {
		if msg == "Connected to bench" {
			statusMu.Lock()
			connected++
			statusMu.Unlock()
		}
	}
	logDir := t.TempDir()
	fileLog, err := sessionlog.NewFileLog(logDir, false)
	if err != nil {
		t.Fatalf("session log: %v", err)
	}

	s, err := NewSession(testConfig(),
		WithTransport(tr),
		WithObservability(&stubObservability{}),
		WithRuleConfig(DefaultRuleConfig()),
		WithSessionLog(fileLog),
		WithSleeper(fastSleep),
		WithStateHook(rec.record),
		WithStatusHook(countConnected),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		states := rec.snapshot()
		statusMu.Lock()
		n := connected
		statusMu.Unlock()
		if i := slices.Index(states, Disconnected); i >= 0 && slices.Contains(states[i:], Connected) && n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reconnect observed, states %v", states)
		}
		time.Sleep(5 * time.Millisecond)
	}

	batch := s.Tick()
	if got := batch.Count(KindData); got != 1 {
		t.Fatalf("expected exactly one data record, got %d", got)
	}
	if got := batch.Count(KindInfo); got != 1 {
		t.Fatalf("expected exactly one info record, got %d", got)
	}
	if batch.State != Connected || s.ConnectionState() != Connected {
		t.Fatalf("expected connected after reconnect, got %s", batch.State)
	}

	vbat := s.CurrentStats()["Vbat"]
	if vbat.Count != 1 || vbat.Min != 8.1 || vbat.Max != 8.1 {
		t.Fatalf("stats should reflect the single data record, got %+v", vbat)
	}

	var messages []string
	for _, e := range batch.Events {
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, "\n")
	if !strings.Contains(joined, "Lost connection or read error: device unplugged") || !strings.Contains(joined, "Connected to bench") {
		t.Fatalf("missing status events in %q", joined)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.ConnectionState() != Disconnected {
		t.Fatalf("expected disconnected, got %s", s.ConnectionState())
	}

	raw, err := os.ReadFile(s.SessionLogPath())
	if err != nil {
		t.Fatalf("read session log: %v", err)
	}
	text := string(raw)
	for _, want := range []string{"--- New session started at", "data:Tim:1 Di:0x0 Vbat:8.10", "info:heartbeat", "--- Connection lost at", "--- Session ended at"} {
		if !strings.Contains(text, want) {
			t.Fatalf("session log missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "Connection lost") != 1 {
		t.Fatalf("operator disconnect must not be logged as a lost connection:\n%s", text)
	}
	if filepath.Dir(s.SessionLogPath()) != logDir {
		t.Fatalf("unexpected log location %s", s.SessionLogPath())
	}
}

func TestSessionConnectTwice(t *testing.T) {
	s, err := NewSession(testConfig(),
		WithTransport(&scriptTransport{conns: []*scriptConn{{}}}),
		WithObservability(&stubObservability{}),
		WithRuleConfig(DefaultRuleConfig()),
		WithoutSessionLog(),
		WithSleeper(fastSleep),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := s.SessionID()
	if err := s.Connect(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	s.FeedLine("data:Vbat:9")
	s.Tick()
	if s.CurrentStats()["Vbat"].Count != 1 {
		t.Fatalf("expected fed line to be counted")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if s.SessionID() == first {
		t.Fatalf("expected a new session id")
	}
	if s.CurrentStats()["Vbat"].Count != 0 {
		t.Fatalf("stats must reset on connect")
	}
}

func TestSessionFeedLineAndAlerts(t *testing.T) {
	s, err := NewSession(testConfig(),
		WithTransport(&scriptTransport{conns: []*scriptConn{{}}}),
		WithObservability(&stubObservability{}),
		WithRuleConfig(DefaultRuleConfig()),
		WithoutSessionLog(),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	s.FeedLine("data:Di:0x9 Tfc:85")
	s.FeedLine("nonsense")
	batch := s.Tick()

	if batch.Count(KindMalformed) != 1 {
		t.Fatalf("expected malformed record in batch")
	}
	if len(batch.Alerts) != 2 || batch.Alerts[0].Priority != PriorityCritical {
		t.Fatalf("unexpected alerts %+v", batch.Alerts)
	}
	if !slices.Equal(s.LatestAlerts(), batch.Alerts) {
		t.Fatalf("latest alerts should match the batch")
	}

	alerts := s.CurrentAlerts(DecodeLine("data:Di:0xZZ"))
	if len(alerts) != 1 || alerts[0].Message != "Unknown error code: 0xZZ" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}

	s.ResetStats()
	if s.CurrentStats()["Tfc"].HasData() {
		t.Fatalf("expected stats reset")
	}
}

func TestSessionReloadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error_config.json")
	ruleCfg, err := LoadRuleConfig(path)
	if err != nil {
		t.Fatalf("LoadRuleConfig: %v", err)
	}

	s, err := NewSession(testConfig(),
		WithTransport(&scriptTransport{conns: []*scriptConn{{}}}),
		WithObservability(&stubObservability{}),
		WithRuleConfig(ruleCfg),
		WithoutSessionLog(),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	rec := DecodeLine("data:Vbat:8.1")
	if alerts := s.CurrentAlerts(rec); len(alerts) != 0 {
		t.Fatalf("expected no alerts with defaults, got %+v", alerts)
	}

	data := `{"conditions": ["info: Vbat > 0: Vbat is {Vbat}"]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if err := s.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	alerts := s.CurrentAlerts(rec)
	if len(alerts) != 1 || alerts[0].Message != "Vbat is 8.10" {
		t.Fatalf("expected reloaded condition, got %+v", alerts)
	}
}

func TestNewSessionWithCustomAdapters(t *testing.T) {
	tr := &scriptTransport{conns: []*scriptConn{{}}}
	snk := &stubSink{}
	obs := &stubObservability{}

	s, err := NewSession(testConfig(),
		WithTransport(tr),
		WithSink(snk),
		WithObservability(obs),
		WithRuleConfig(DefaultRuleConfig()),
		WithoutSessionLog(),
	)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if s.transport != tr {
		t.Fatalf("expected custom transport to be used")
	}
	if s.obs != obs {
		t.Fatalf("expected custom observability to be used")
	}
	if len(s.sinks) != 2 || s.sinks[0] != snk || s.sinks[1].Name() != "websocket-feed" {
		t.Fatalf("expected custom sink followed by the feed, got %v", s.sinks)
	}
	if s.db != nil || s.mqtt != nil {
		t.Fatalf("optional sinks must stay off without configuration")
	}
	if s.sessionLog != nil || s.SessionLogPath() != "" {
		t.Fatalf("session log should be disabled")
	}
}

func TestNewSessionRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Kind = "carrier-pigeon"
	if _, err := NewSession(cfg, WithObservability(&stubObservability{}), WithoutSessionLog()); err == nil {
		t.Fatalf("expected error for unknown transport kind")
	}
	if _, err := NewSession(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

// stuckConn ignores Close and hands out one line only when released.
type stuckConn struct {
	reading   chan struct{}
	release   chan struct{}
	delivered chan struct{}
	once      sync.Once
}

func (c *stuckConn) ReadLine(time.Duration) (string, bool, error) {
	c.once.Do(func() { close(c.reading) })
	<-c.release
	select {
	case <-c.delivered:
		return "", false, errors.New("closed")
	default:
		close(c.delivered)
		return "data:Vbat:7.5", true, nil
	}
}

func (c *stuckConn) Close() error { return nil }

type stuckTransport struct{ conn *stuckConn }

func (t *stuckTransport) Name() string { return "stuck" }

func (t *stuckTransport) Open(context.Context, string, TransportParams) (Conn, error) {
	return t.conn, nil
}

func TestSessionDisconnectWithStuckReader(t *testing.T) {
	conn := &stuckConn{reading: make(chan struct{}), release: make(chan struct{}), delivered: make(chan struct{})}
	cfg := testConfig()
	cfg.Session.JoinTimeout = 20 * time.Millisecond
	fileLog, err := sessionlog.NewFileLog(t.TempDir(), false)
	if err != nil {
		t.Fatalf("session log: %v", err)
	}

	s, err := NewSession(cfg,
		WithTransport(&stuckTransport{conn: conn}),
		WithObservability(&stubObservability{}),
		WithRuleConfig(DefaultRuleConfig()),
		WithSessionLog(fileLog),
		WithSleeper(fastSleep),
	)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-conn.reading:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader never started")
	}

	if err := s.Disconnect(); err == nil {
		t.Fatalf("expected join timeout error")
	}

	close(conn.release)
	<-conn.delivered
	time.Sleep(50 * time.Millisecond)

	if n := s.queue.Len(); n != 0 {
		t.Fatalf("late line reached the queue of an ended session (%d queued)", n)
	}
	raw, err := os.ReadFile(s.SessionLogPath())
	if err != nil {
		t.Fatalf("read session log: %v", err)
	}
	text := string(raw)
	if strings.Contains(text, "Connection lost") || strings.Contains(text, "data:Vbat:7.5") {
		t.Fatalf("ended session log was written to after Disconnect:\n%s", text)
	}
	if !strings.Contains(text, "--- Session ended at") {
		t.Fatalf("missing session end marker:\n%s", text)
	}
}
