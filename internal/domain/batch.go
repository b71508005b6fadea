package domain

import "time"

// StatusEvent is a human readable transport or session status message.
type StatusEvent struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Batch is everything one consumer tick produced. Records keep arrival order.
// Alerts belong to the most recent data record seen by the session.
type Batch struct {
	SessionID string                `json:"session_id"`
	At        time.Time             `json:"at"`
	State     ConnectionState       `json:"state"`
	Records   []Record              `json:"records"`
	Stats     map[string]MetricStat `json:"stats"`
	Alerts    []Alert               `json:"alerts"`
	IdleTicks uint64                `json:"idle_ticks"`
	Events    []StatusEvent         `json:"events,omitempty"`
}

// LatestData returns the last data record of the batch.
func (b Batch) LatestData() (Record, bool) {
	for i := len(b.Records) - 1; i >= 0; i-- {
		if b.Records[i].Kind == KindData {
			return b.Records[i], true
		}
	}
	return Record{}, false
}

// Count returns how many records of kind the batch holds.
func (b Batch) Count(kind RecordKind) int {
	n := 0
	for _, r := range b.Records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
