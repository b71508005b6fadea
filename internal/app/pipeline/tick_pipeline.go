package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/telemdeck/internal/adapters/observability"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// Ticker is the consumer side of a session: every Tick drains the queue,
// decodes lines in arrival order, updates statistics and alerts and fans the
// resulting batch out to the sinks.
type Ticker struct {
	queue      ports.LineQueue
	decoder    ports.Decoder
	stats      ports.StatsAggregator
	rules      ports.RuleEvaluator
	sinks      []ports.Sink
	sessionLog ports.SessionLog
	obs        ports.Observability
	state      func() domain.ConnectionState
	staleAfter time.Duration

	mu        sync.Mutex
	sessionID string
	idleTicks uint64
	lastData  time.Time
	staleMark time.Time
	alerts    []domain.Alert
	events    []domain.StatusEvent
}

type TickerDeps struct {
	Queue      ports.LineQueue
	Decoder    ports.Decoder
	Stats      ports.StatsAggregator
	Rules      ports.RuleEvaluator
	Sinks      []ports.Sink
	SessionLog ports.SessionLog
	Obs        ports.Observability
	State      func() domain.ConnectionState
	StaleAfter time.Duration
}

func NewTicker(deps TickerDeps) *Ticker {
	t := &Ticker{
		queue:      deps.Queue,
		decoder:    deps.Decoder,
		stats:      deps.Stats,
		rules:      deps.Rules,
		sinks:      deps.Sinks,
		sessionLog: deps.SessionLog,
		obs:        deps.Obs,
		state:      deps.State,
		staleAfter: deps.StaleAfter,
	}
	if t.state == nil {
		t.state = func() domain.ConnectionState { return domain.Disconnected }
	}
	if t.obs == nil {
		t.obs = observability.Nop{}
	}
	return t
}

// Begin starts a new session window. Alerts, idle ticks and pending events
// are cleared; statistics are left to the caller.
func (t *Ticker) Begin(sessionID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = sessionID
	t.idleTicks = 0
	t.lastData = at
	t.staleMark = at
	t.alerts = nil
	t.events = nil
}

// AddEvent queues a status message for the next batch.
func (t *Ticker) AddEvent(msg string, at time.Time) {
	t.mu.Lock()
	t.events = append(t.events, domain.StatusEvent{At: at, Message: msg})
	t.mu.Unlock()
}

// Alerts returns the alerts of the most recent data record.
func (t *Ticker) Alerts() []domain.Alert {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Alert(nil), t.alerts...)
}

func (t *Ticker) IdleTicks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleTicks
}

// Run ticks every interval until ctx is done.
func (t *Ticker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tk.C:
			t.Tick(now)
		}
	}
}

func (t *Ticker) Tick(now time.Time) domain.Batch {
	start := time.Now()

	t.obs.SetGauge(ports.MetricQueueLength, float64(t.queue.Len()))
	lines := t.queue.TryPopAll()

	t.mu.Lock()
	batch := domain.Batch{
		SessionID: t.sessionID,
		At:        now,
		State:     t.state(),
		Records:   make([]domain.Record, 0, len(lines)),
	}

	sawData := false
	for _, line := range lines {
		rec := t.decoder.Decode(line)
		batch.Records = append(batch.Records, rec)

		switch rec.Kind {
		case domain.KindData:
			sawData = true
			t.stats.Observe(rec)
			t.alerts = t.rules.Evaluate(rec)
			t.obs.IncCounter(ports.MetricRecordsData, 1)
		case domain.KindInfo:
			t.obs.LogInfo("device_info", ports.Field{Key: "text", Value: rec.Text})
			t.obs.IncCounter(ports.MetricRecordsInfo, 1)
		default:
			// RecordMalformed owns the malformed counter.
			t.obs.RecordMalformed(rec)
		}
	}

	if sawData {
		t.idleTicks = 0
		t.lastData = now
		t.staleMark = now
	} else {
		t.idleTicks++
		t.checkStaleLocked(now)
	}

	batch.IdleTicks = t.idleTicks
	batch.Alerts = append([]domain.Alert(nil), t.alerts...)
	batch.Events = t.events
	t.events = nil
	t.mu.Unlock()

	batch.Stats = t.stats.Snapshot()

	if t.sessionLog != nil {
		if err := t.sessionLog.Flush(); err != nil {
			t.obs.LogError("session_log_flush_failed", err)
		}
		t.obs.SetGauge(ports.MetricSessionLogSize, float64(t.sessionLog.Stats().SizeBytes))
	}

	for _, s := range t.sinks {
		if err := s.WriteBatch(batch); err != nil {
			t.obs.LogError("sink_write_failed", err, ports.Field{Key: "sink", Value: s.Name()})
			t.obs.IncCounter(ports.MetricSinkErrors, 1)
		}
	}

	t.obs.SetGauge(ports.MetricActiveAlerts, float64(len(batch.Alerts)))
	t.obs.SetGauge(ports.MetricConnState, float64(batch.State))
	t.obs.ObserveLatency(ports.MetricTickLatency, time.Since(start).Seconds())
	return batch
}

// checkStaleLocked emits one stale warning per staleAfter window without data.
func (t *Ticker) checkStaleLocked(now time.Time) {
	if t.staleAfter <= 0 || t.lastData.IsZero() {
		return
	}
	if now.Sub(t.staleMark) < t.staleAfter {
		return
	}
	t.staleMark = now
	msg := fmt.Sprintf("No data for %s, connection may be stale", t.staleAfter)
	t.events = append(t.events, domain.StatusEvent{At: now, Message: msg})
	t.obs.LogInfo("connection_stale", ports.Field{Key: "since", Value: t.lastData})
}
