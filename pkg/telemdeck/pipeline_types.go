package telemdeck

import (
	"github.com/ghalamif/telemdeck/internal/adapters/codec"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// Record is one decoded protocol line.
type Record = domain.Record

// Value keeps the raw text of a field next to its numeric reading.
type Value = domain.Value

type RecordKind = domain.RecordKind

// Batch is what every tick hands to the sinks.
type Batch = domain.Batch

type (
	Alert           = domain.Alert
	Priority        = domain.Priority
	MetricStat      = domain.MetricStat
	ConnectionState = domain.ConnectionState
	StatusEvent     = domain.StatusEvent
)

// Transport opens connections to a telemetry source (serial, TCP, OPC UA, etc.).
type Transport = ports.Transport

// Conn reads newline framed lines from an open transport.
type Conn = ports.Conn

type TransportParams = ports.TransportParams

// Sink consumes batches and forwards them to any downstream system.
type Sink = ports.Sink

// Observability emits logs and metrics about the session.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// SessionLog keeps the raw line record of each session.
type SessionLog = ports.SessionLog

type LineQueue = ports.LineQueue

type Decoder = ports.Decoder

const (
	KindMalformed = domain.KindMalformed
	KindData      = domain.KindData
	KindInfo      = domain.KindInfo

	PriorityInfo     = domain.PriorityInfo
	PriorityWarning  = domain.PriorityWarning
	PriorityError    = domain.PriorityError
	PriorityCritical = domain.PriorityCritical

	Disconnected = domain.Disconnected
	Connecting   = domain.Connecting
	Connected    = domain.Connected
)

// DecodeLine parses one protocol line the way the session does.
func DecodeLine(line string) Record {
	return codec.Decode(line)
}
