package telemdeck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/telemdeck/internal/adapters/codec"
	"github.com/ghalamif/telemdeck/internal/adapters/feed"
	"github.com/ghalamif/telemdeck/internal/adapters/mqtt"
	"github.com/ghalamif/telemdeck/internal/adapters/observability"
	"github.com/ghalamif/telemdeck/internal/adapters/opcua"
	"github.com/ghalamif/telemdeck/internal/adapters/queue"
	"github.com/ghalamif/telemdeck/internal/adapters/rules"
	"github.com/ghalamif/telemdeck/internal/adapters/sessionlog"
	"github.com/ghalamif/telemdeck/internal/adapters/sink"
	"github.com/ghalamif/telemdeck/internal/adapters/stats"
	"github.com/ghalamif/telemdeck/internal/adapters/transport"
	"github.com/ghalamif/telemdeck/internal/app/config"
	"github.com/ghalamif/telemdeck/internal/app/pipeline"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// ErrSessionActive is returned by Connect while a session is already running.
var ErrSessionActive = errors.New("telemdeck: session already connected")

// SleepFunc waits between reconnect attempts; it reports false when ctx ended.
type SleepFunc = transport.SleepFunc

// SessionOption customizes the dependencies used by Session.
type SessionOption func(*sessionOverrides)

type sessionOverrides struct {
	transport     Transport
	sinks         []Sink
	observability Observability
	sessionLog    SessionLog
	noSessionLog  bool
	ruleConfig    *RuleConfig
	decoder       Decoder
	queue         LineQueue
	sleeper       SleepFunc
	stateHooks    []func(ConnectionState)
	statusHooks   []func(string)
}

// WithTransport replaces the transport selected by transport.kind.
func WithTransport(t Transport) SessionOption {
	return func(o *sessionOverrides) {
		o.transport = t
	}
}

// WithSink adds a sink; it may be given several times.
func WithSink(s Sink) SessionOption {
	return func(o *sessionOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) SessionOption {
	return func(o *sessionOverrides) {
		o.observability = obs
	}
}

// WithSessionLog replaces the file based raw line log.
func WithSessionLog(l SessionLog) SessionOption {
	return func(o *sessionOverrides) {
		o.sessionLog = l
	}
}

// WithoutSessionLog disables the raw line log regardless of configuration.
func WithoutSessionLog() SessionOption {
	return func(o *sessionOverrides) {
		o.noSessionLog = true
	}
}

// WithRuleConfig uses cfg instead of loading rules.path.
func WithRuleConfig(cfg *RuleConfig) SessionOption {
	return func(o *sessionOverrides) {
		o.ruleConfig = cfg
	}
}

func WithDecoder(d Decoder) SessionOption {
	return func(o *sessionOverrides) {
		o.decoder = d
	}
}

func WithQueue(q LineQueue) SessionOption {
	return func(o *sessionOverrides) {
		o.queue = q
	}
}

// WithSleeper replaces the wait used between reconnect attempts and idle reads.
func WithSleeper(fn SleepFunc) SessionOption {
	return func(o *sessionOverrides) {
		o.sleeper = fn
	}
}

// WithStateHook is called on every connection state change.
func WithStateHook(fn func(ConnectionState)) SessionOption {
	return func(o *sessionOverrides) {
		if fn != nil {
			o.stateHooks = append(o.stateHooks, fn)
		}
	}
}

// WithStatusHook receives every transport status message.
func WithStatusHook(fn func(string)) SessionOption {
	return func(o *sessionOverrides) {
		if fn != nil {
			o.statusHooks = append(o.statusHooks, fn)
		}
	}
}

// Session owns one telemetry source: a reader goroutine that keeps the
// transport alive and queues raw lines, and a tick loop that decodes them,
// keeps statistics, evaluates alerts and fans batches out to the sinks.
type Session struct {
	cfg        *Config
	obs        ports.Observability
	transport  ports.Transport
	queue      ports.LineQueue
	stats      *stats.Aggregator
	rules      *rules.Engine
	sessionLog ports.SessionLog
	sinks      []ports.Sink
	ticker     *pipeline.Ticker
	feed       *feed.Hub
	mqtt       *mqtt.Publisher
	db         *sql.DB
	sleeper    SleepFunc

	stateHooks  []func(ConnectionState)
	statusHooks []func(string)

	manager atomic.Pointer[transport.Manager]

	mu         sync.Mutex
	cancel     context.CancelFunc
	readerDone chan struct{}
	sessionID  string
	closing    *atomic.Bool
	connected  atomic.Bool
	metricsSrv *http.Server
}

// NewSession bootstraps the default adapters for cfg: the configured
// transport, a file session log, the JSON rule file, the live feed and the
// optional Timescale and MQTT sinks. SessionOption values override any of them.
func NewSession(cfg *Config, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o sessionOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	s := &Session{
		cfg:         cfg,
		obs:         obs,
		sleeper:     o.sleeper,
		stateHooks:  o.stateHooks,
		statusHooks: o.statusHooks,
	}

	var err error
	s.transport = o.transport
	if s.transport == nil {
		if s.transport, err = newTransport(cfg.Transport); err != nil {
			return nil, err
		}
	}

	s.queue = o.queue
	if s.queue == nil {
		s.queue = queue.NewLineQueue(256)
	}

	decoder := o.decoder
	if decoder == nil {
		decoder = codec.NewLineCodec()
	}

	ruleCfg := o.ruleConfig
	if ruleCfg == nil {
		ruleCfg, err = rules.LoadConfig(cfg.Rules.Path)
		if err != nil {
			obs.LogError("rule_config_invalid", err, ports.Field{Key: "path", Value: cfg.Rules.Path})
		}
	}
	s.rules = rules.NewEngine(ruleCfg, rules.WithCodeKey(cfg.Session.ErrorCodeKey))
	s.stats = stats.NewAggregator(cfg.Session.Metrics)

	switch {
	case o.noSessionLog:
	case o.sessionLog != nil:
		s.sessionLog = o.sessionLog
	case cfg.SessionLog.On():
		if s.sessionLog, err = sessionlog.NewFileLog(cfg.SessionLog.Dir, cfg.SessionLog.TimestampLines); err != nil {
			return nil, fmt.Errorf("session log: %w", err)
		}
	}

	s.sinks = append(s.sinks, o.sinks...)
	if err := s.defaultSinks(); err != nil {
		_ = s.closeSinks()
		return nil, err
	}

	s.ticker = pipeline.NewTicker(pipeline.TickerDeps{
		Queue:      s.queue,
		Decoder:    decoder,
		Stats:      s.stats,
		Rules:      s.rules,
		Sinks:      s.sinks,
		SessionLog: s.sessionLog,
		Obs:        obs,
		State:      s.ConnectionState,
		StaleAfter: cfg.Session.StaleAfter,
	})
	return s, nil
}

func newTransport(cfg config.TransportConfig) (Transport, error) {
	switch cfg.Kind {
	case config.KindSerial:
		return transport.NewSerial(), nil
	case config.KindTCP:
		return transport.NewTCP(), nil
	case config.KindStdin:
		return transport.NewStdin(), nil
	case config.KindOPCUA:
		t, err := opcua.NewTransport(cfg.OPCUA)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.KindSim, "":
		return transport.NewSimulator(cfg.Sim.Interval, cfg.Sim.Seed), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func (s *Session) defaultSinks() error {
	if s.cfg.Metrics.Addr != "" && s.cfg.Metrics.FeedPath != "" {
		s.feed = feed.NewHub(feed.WithObservability(s.obs))
		s.sinks = append(s.sinks, s.feed)
	}

	if s.cfg.Timescale.ConnString != "" {
		db, err := sql.Open("postgres", s.cfg.Timescale.ConnString)
		if err != nil {
			return err
		}
		s.db = db
		s.sinks = append(s.sinks, sink.NewTimescaleSink(db, s.cfg.Timescale.Table))
	}

	if s.cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewPublisher(s.cfg.MQTT, mqtt.WithObservability(s.obs))
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		s.mqtt = pub
		s.sinks = append(s.sinks, pub)
	}
	return nil
}

// Connect starts a new session: fresh id and statistics, a new session log
// file and a reader goroutine that keeps the transport connected until
// Disconnect or ctx ends.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSessionActive
	}

	now := time.Now()
	s.sessionID = uuid.NewString()
	s.stats.Reset()
	s.ticker.Begin(s.sessionID, now)
	s.connected.Store(false)

	if s.sessionLog != nil {
		if err := s.sessionLog.Begin(s.sessionID, now); err != nil {
			s.obs.LogError("session_log_begin_failed", err)
		}
	}

	// closing belongs to this session only; a reader that outlives its
	// Disconnect must not touch the next session.
	closing := new(atomic.Bool)
	s.closing = closing

	mopts := []transport.Option{
		transport.WithObservability(s.obs),
		transport.WithStatusHook(s.onStatus),
		transport.WithStateHook(func(st ConnectionState) { s.onState(st, closing) }),
		transport.WithLinePrefix(s.cfg.Transport.DataPrefix),
	}
	if s.sleeper != nil {
		mopts = append(mopts, transport.WithSleeper(s.sleeper))
	}
	params := ports.TransportParams{BaudRate: s.cfg.Transport.BaudRate}
	m := transport.NewManager(s.transport, s.cfg.Transport.Address, params, s.cfg.Policy, mopts...)

	readerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.manager.Store(m)
	s.cancel = cancel
	s.readerDone = done

	go func() {
		defer close(done)
		pipeline.RunReader(readerCtx, m.Lines(readerCtx), s.queue, s.sessionLog, s.obs)
	}()

	s.obs.LogInfo("session_started",
		ports.Field{Key: "session_id", Value: s.sessionID},
		ports.Field{Key: "transport", Value: s.transport.Name()},
		ports.Field{Key: "address", Value: s.cfg.Transport.Address})
	return nil
}

// Disconnect stops the reader, waiting at most session.join_timeout before
// force closing the connection. Lines not yet ticked are discarded.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	cancel, done, m, closing := s.cancel, s.readerDone, s.manager.Load(), s.closing
	s.cancel, s.readerDone = nil, nil
	if cancel != nil {
		// stays set: a reader that misses the join timeout exits silently
		closing.Store(true)
		s.connected.Store(false)
	}
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	join := s.cfg.Session.JoinTimeout
	if join <= 0 {
		join = time.Second
	}

	var err error
	select {
	case <-done:
	case <-time.After(join):
		m.ForceClose()
		select {
		case <-done:
		case <-time.After(join):
			err = errors.New("transport reader did not stop")
			s.obs.LogError("session_join_timeout", err, ports.Field{Key: "address", Value: m.Address()})
		}
	}

	if n := s.queue.Discard(); n > 0 {
		s.obs.LogInfo("session_queue_discarded", ports.Field{Key: "lines", Value: n})
	}
	if s.sessionLog != nil {
		if merr := s.sessionLog.Mark("Session ended", time.Now()); merr != nil {
			s.obs.LogError("session_log_mark_failed", merr)
		}
		if ferr := s.sessionLog.Flush(); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}
	s.obs.LogInfo("session_ended", ports.Field{Key: "session_id", Value: s.SessionID()})
	return err
}

func (s *Session) onState(st ConnectionState, closing *atomic.Bool) {
	if closing.Load() {
		for _, fn := range s.stateHooks {
			fn(st)
		}
		return
	}
	switch st {
	case domain.Connected:
		s.connected.Store(true)
	case domain.Disconnected:
		if s.connected.Swap(false) && s.sessionLog != nil {
			if err := s.sessionLog.Mark("Connection lost", time.Now()); err != nil {
				s.obs.LogError("session_log_mark_failed", err)
			}
		}
	}
	for _, fn := range s.stateHooks {
		fn(st)
	}
}

func (s *Session) onStatus(msg string) {
	s.ticker.AddEvent(msg, time.Now())
	for _, fn := range s.statusHooks {
		fn(msg)
	}
}

// Run connects and ticks until ctx is cancelled, serving /metrics, /healthz
// and the live feed on metrics.addr, then shuts everything down.
func (s *Session) Run(ctx context.Context) error {
	if s.mqtt != nil {
		if err := s.mqtt.Connect(ctx); err != nil {
			// paho keeps retrying in the background
			s.obs.LogError("mqtt_connect_failed", err)
		}
	}
	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			s.obs.LogError("timescale_schema_failed", err)
		}
	}

	if err := s.Connect(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.ticker.Run(gctx, s.cfg.Session.TickInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Disconnect()
	})
	if s.cfg.Metrics.Addr != "" {
		srv := s.metricsServer()
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.stopMetrics(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(err, s.Shutdown(shutdownCtx))
}

func (s *Session) ensureSchema(ctx context.Context) error {
	for _, snk := range s.sinks {
		if ts, ok := snk.(*sink.TimescaleSink); ok {
			return ts.EnsureSchema(ctx)
		}
	}
	return nil
}

func (s *Session) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.ConnectionState() != domain.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(s.ConnectionState().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.feed != nil {
		mux.Handle(s.cfg.Metrics.FeedPath, s.feed)
	}

	srv := &http.Server{
		Addr:              s.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.metricsSrv = srv
	s.mu.Unlock()
	return srv
}

// Shutdown disconnects and releases every sink and file the session owns.
func (s *Session) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.Disconnect(); err != nil {
		errs = append(errs, err)
	}

	if err := s.stopMetrics(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := s.closeSinks(); err != nil {
		errs = append(errs, err)
	}

	if s.sessionLog != nil {
		if err := s.sessionLog.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Session) stopMetrics(ctx context.Context) error {
	s.mu.Lock()
	srv := s.metricsSrv
	s.metricsSrv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Session) closeSinks() error {
	if s.feed != nil {
		s.feed.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FeedLine queues one raw line as if the transport had read it.
func (s *Session) FeedLine(line string) {
	if s.sessionLog != nil {
		if err := s.sessionLog.Append(line, time.Now()); err != nil && !errors.Is(err, sessionlog.ErrNotStarted) {
			s.obs.LogError("session_log_append_failed", err)
		}
	}
	s.queue.Push(line)
}

// Tick drains the queue once and returns the batch handed to the sinks.
func (s *Session) Tick() Batch {
	return s.ticker.Tick(time.Now())
}

func (s *Session) CurrentStats() map[string]MetricStat {
	return s.stats.Snapshot()
}

// CurrentAlerts evaluates the active rule set against rec.
func (s *Session) CurrentAlerts(rec Record) []Alert {
	return s.rules.Evaluate(rec)
}

// LatestAlerts returns the alerts of the most recent data record.
func (s *Session) LatestAlerts() []Alert {
	return s.ticker.Alerts()
}

func (s *Session) ConnectionState() ConnectionState {
	m := s.manager.Load()
	if m == nil {
		return domain.Disconnected
	}
	return m.State()
}

func (s *Session) ResetStats() {
	s.stats.Reset()
}

// ReloadRules rereads rules.path. The rule set in use is replaced even when
// the returned error reports skipped entries.
func (s *Session) ReloadRules() error {
	err := s.rules.Reload()
	if err != nil {
		s.obs.LogError("rule_config_invalid", err, ports.Field{Key: "path", Value: s.cfg.Rules.Path})
	}
	return err
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SessionLogPath is the file raw lines of the current session go to.
func (s *Session) SessionLogPath() string {
	if s.sessionLog == nil {
		return ""
	}
	return s.sessionLog.Stats().Path
}
