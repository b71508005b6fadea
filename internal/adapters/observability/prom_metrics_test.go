package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(WithRegisterer(reg))

	obs.IncCounter(ports.MetricLinesReceived, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricLinesReceived]); got != 5 {
		t.Fatalf("expected lines counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricReconnects, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricReconnects]); got != 2 {
		t.Fatalf("expected reconnect counter 2, got %f", got)
	}

	obs.SetGauge(ports.MetricConnState, float64(domain.Connected))
	if got := testutil.ToFloat64(obs.gauges[ports.MetricConnState]); got != 2 {
		t.Fatalf("expected connection gauge 2, got %f", got)
	}

	obs.ObserveLatency(ports.MetricTickLatency, 0.01)
	hCollector := obs.histos[ports.MetricTickLatency].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("unknown_metric", 1)
	obs.SetGauge("unknown_gauge", 1)
}

func TestPromObsRecordMalformedLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	obs := NewPromObs(WithRegisterer(prometheus.NewRegistry()), WithLogger(logger))

	obs.RecordMalformed(domain.Record{Kind: domain.KindMalformed, Text: "garbage"})
	if got := testutil.ToFloat64(obs.counters[ports.MetricRecordsBad]); got != 1 {
		t.Fatalf("expected malformed counter 1, got %f", got)
	}
	if !strings.Contains(buf.String(), "Data in wrong format") || !strings.Contains(buf.String(), "garbage") {
		t.Fatalf("expected malformed line to be logged, got %q", buf.String())
	}
}

func TestPromObsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPromObs(WithRegisterer(reg))

	n, err := testutil.GatherAndCount(reg, ports.MetricQueueLength, ports.MetricSinkErrors)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 metric series, got %d", n)
	}
}
