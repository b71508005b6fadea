package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// MetricStat holds running min/max/sum/count for one metric. Min and Max start
// at +Inf/-Inf and are only meaningful once Count > 0.
type MetricStat struct {
	Min   float64
	Max   float64
	Sum   float64
	Count uint64
}

func NewMetricStat() MetricStat {
	return MetricStat{Min: math.Inf(1), Max: math.Inf(-1)}
}

func (m *MetricStat) Observe(v float64) {
	if v < m.Min {
		m.Min = v
	}
	if v > m.Max {
		m.Max = v
	}
	m.Sum += v
	m.Count++
}

func (m MetricStat) HasData() bool { return m.Count > 0 }

// Avg returns sum/count, false when no sample has been observed.
func (m MetricStat) Avg() (float64, bool) {
	if m.Count == 0 {
		return 0, false
	}
	return m.Sum / float64(m.Count), true
}

// String renders "--" until the first sample arrives.
func (m MetricStat) String() string {
	avg, ok := m.Avg()
	if !ok {
		return "min=-- max=-- avg=--"
	}
	return fmt.Sprintf("min=%.2f max=%.2f avg=%.2f", m.Min, m.Max, avg)
}

type metricStatJSON struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Sum   float64  `json:"sum"`
	Count uint64   `json:"count"`
}

// MarshalJSON emits null for min/max/avg instead of the infinite sentinels.
func (m MetricStat) MarshalJSON() ([]byte, error) {
	out := metricStatJSON{Sum: m.Sum, Count: m.Count}
	if avg, ok := m.Avg(); ok {
		lo, hi := m.Min, m.Max
		out.Min, out.Max, out.Avg = &lo, &hi, &avg
	}
	return json.Marshal(out)
}
