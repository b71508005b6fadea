package ports

import "github.com/ghalamif/telemdeck/internal/domain"

// Metric names understood by the default observability backend.
const (
	MetricLinesReceived  = "telemdeck_lines_received_total"
	MetricRecordsData    = "telemdeck_records_data_total"
	MetricRecordsInfo    = "telemdeck_records_info_total"
	MetricRecordsBad     = "telemdeck_records_malformed_total"
	MetricReconnects     = "telemdeck_reconnects_total"
	MetricSinkErrors     = "telemdeck_sink_errors_total"
	MetricConnState      = "telemdeck_connection_state"
	MetricQueueLength    = "telemdeck_queue_length"
	MetricActiveAlerts   = "telemdeck_active_alerts"
	MetricSessionLogSize = "telemdeck_session_log_bytes"
	MetricTickLatency    = "telemdeck_tick_duration_seconds"
)

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordMalformed(rec domain.Record)
}

type Field struct {
	Key   string
	Value any
}
