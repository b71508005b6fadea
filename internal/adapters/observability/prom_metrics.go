package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// PromObs logs through slog and exports session metrics to Prometheus.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

type Option func(*promOptions)

type promOptions struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithRegisterer registers the collectors somewhere other than the default registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *promOptions) { o.registerer = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *promOptions) { o.logger = l }
}

func NewPromObs(opts ...Option) *PromObs {
	o := promOptions{registerer: prometheus.DefaultRegisterer, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricLinesReceived: counter(ports.MetricLinesReceived, "Raw lines read from the transport."),
		ports.MetricRecordsData:   counter(ports.MetricRecordsData, "Decoded data records."),
		ports.MetricRecordsInfo:   counter(ports.MetricRecordsInfo, "Decoded info records."),
		ports.MetricRecordsBad:    counter(ports.MetricRecordsBad, "Lines that did not fit the line protocol."),
		ports.MetricReconnects:    counter(ports.MetricReconnects, "Transport connections lost and retried."),
		ports.MetricSinkErrors:    counter(ports.MetricSinkErrors, "Batches a sink failed to accept."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricConnState:      gauge(ports.MetricConnState, "Connection state: 0 disconnected, 1 connecting, 2 connected."),
		ports.MetricQueueLength:    gauge(ports.MetricQueueLength, "Raw lines waiting for the next tick."),
		ports.MetricActiveAlerts:   gauge(ports.MetricActiveAlerts, "Alerts raised by the latest data record."),
		ports.MetricSessionLogSize: gauge(ports.MetricSessionLogSize, "Size of the current session log."),
	}
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricTickLatency,
		Help:    "Time spent draining, decoding and evaluating one tick.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	collectors := []prometheus.Collector{tick}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	o.registerer.MustRegister(collectors...)

	return &PromObs{
		logger:   o.logger,
		counters: counters,
		gauges:   gauges,
		histos:   map[string]prometheus.Observer{ports.MetricTickLatency: tick},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "error", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordMalformed(rec domain.Record) {
	p.IncCounter(ports.MetricRecordsBad, 1)
	p.logger.Warn("Data in wrong format", "line", rec.Text, "seq", rec.Seq)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
