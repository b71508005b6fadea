package stats

import (
	"sync"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// DefaultMetrics are the fuel cell channels tracked when none are configured.
var DefaultMetrics = []string{"Vbat", "Iout", "Pout", "Vfc", "Pfc", "Tfc"}

// Aggregator keeps running statistics for a fixed set of metrics. Observe is
// called from the tick goroutine; Snapshot may be called from anywhere.
type Aggregator struct {
	mu      sync.RWMutex
	metrics []string
	stats   map[string]domain.MetricStat
}

func NewAggregator(metrics []string) *Aggregator {
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	a := &Aggregator{metrics: append([]string(nil), metrics...)}
	a.stats = a.fresh()
	return a
}

// Observe folds the numeric configured fields of a data record into the
// running stats. Other record kinds and absent or text fields are ignored.
func (a *Aggregator) Observe(rec domain.Record) {
	if rec.Kind != domain.KindData {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range a.metrics {
		v, ok := rec.Number(name)
		if !ok {
			continue
		}
		st := a.stats[name]
		st.Observe(v)
		a.stats[name] = st
	}
}

// Snapshot returns a copy safe to hand to other goroutines.
func (a *Aggregator) Snapshot() map[string]domain.MetricStat {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]domain.MetricStat, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.stats = a.fresh()
	a.mu.Unlock()
}

// Metrics lists the tracked metric names in configured order.
func (a *Aggregator) Metrics() []string {
	return append([]string(nil), a.metrics...)
}

func (a *Aggregator) fresh() map[string]domain.MetricStat {
	m := make(map[string]domain.MetricStat, len(a.metrics))
	for _, name := range a.metrics {
		m[name] = domain.NewMetricStat()
	}
	return m
}

var _ ports.StatsAggregator = (*Aggregator)(nil)
