package ports

import "github.com/ghalamif/telemdeck/internal/domain"

// StatsAggregator keeps running min/max/avg per metric over data records.
type StatsAggregator interface {
	Observe(rec domain.Record)
	Snapshot() map[string]domain.MetricStat
	Reset()
}

// RuleEvaluator turns a data record into alerts, highest priority first.
type RuleEvaluator interface {
	Evaluate(rec domain.Record) []domain.Alert
}
