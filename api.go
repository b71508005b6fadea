package telemdeck

import (
	base "github.com/ghalamif/telemdeck/pkg/telemdeck"
)

// Re-exported errors for convenience.
var (
	ErrSessionActive     = base.ErrSessionActive
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/telemdeck directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	TransportConfig  = base.TransportConfig
	OPCUAConfig      = base.OPCUAConfig
	SimConfig        = base.SimConfig
	SessionConfig    = base.SessionConfig
	RulesConfig      = base.RulesConfig
	SessionLogConfig = base.SessionLogConfig
	MetricsConfig    = base.MetricsConfig
	TimescaleConfig  = base.TimescaleConfig
	MQTTConfig       = base.MQTTConfig
	RuleConfig       = base.RuleConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Session          = base.Session
	SessionOption    = base.SessionOption
	SleepFunc        = base.SleepFunc
	BatchHandler     = base.BatchHandler
	Record           = base.Record
	Value            = base.Value
	RecordKind       = base.RecordKind
	Batch            = base.Batch
	Alert            = base.Alert
	Priority         = base.Priority
	MetricStat       = base.MetricStat
	ConnectionState  = base.ConnectionState
	StatusEvent      = base.StatusEvent
	Transport        = base.Transport
	Conn             = base.Conn
	TransportParams  = base.TransportParams
	Sink             = base.Sink
	Observability    = base.Observability
	Field            = base.Field
	SessionLog       = base.SessionLog
	LineQueue        = base.LineQueue
	Decoder          = base.Decoder
)

const (
	KindMalformed = base.KindMalformed
	KindData      = base.KindData
	KindInfo      = base.KindInfo

	PriorityInfo     = base.PriorityInfo
	PriorityWarning  = base.PriorityWarning
	PriorityError    = base.PriorityError
	PriorityCritical = base.PriorityCritical

	Disconnected = base.Disconnected
	Connecting   = base.Connecting
	Connected    = base.Connected

	TransportSerial = base.TransportSerial
	TransportTCP    = base.TransportTCP
	TransportSim    = base.TransportSim
	TransportStdin  = base.TransportStdin
	TransportOPCUA  = base.TransportOPCUA
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func LoadRuleConfig(path string) (*RuleConfig, error) {
	return base.LoadRuleConfig(path)
}

func DefaultRuleConfig() *RuleConfig {
	return base.DefaultRuleConfig()
}

func DecodeLine(line string) Record {
	return base.DecodeLine(line)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...SessionOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(kind, address string) StreamInOption {
	return base.StreamInSource(kind, address)
}

func StreamInStatusHook(fn func(string)) StreamInOption {
	return base.StreamInStatusHook(fn)
}

func StreamInStateHook(fn func(ConnectionState)) StreamInOption {
	return base.StreamInStateHook(fn)
}

func StreamOutDecoder(d Decoder) StreamOutOption {
	return base.StreamOutDecoder(d)
}

func StreamInTransport(t Transport) StreamInOption {
	return base.StreamInTransport(t)
}

func StreamInQueue(q LineQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInSessionLog(l SessionLog) StreamInOption {
	return base.StreamInSessionLog(l)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutRules(cfg *RuleConfig) StreamOutOption {
	return base.StreamOutRules(cfg)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn BatchHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Session and options.
func NewSession(cfg *Config, opts ...SessionOption) (*Session, error) {
	return base.NewSession(cfg, opts...)
}

func WithTransport(t Transport) SessionOption {
	return base.WithTransport(t)
}

func WithSink(s Sink) SessionOption {
	return base.WithSink(s)
}

func WithObservability(obs Observability) SessionOption {
	return base.WithObservability(obs)
}

func WithSessionLog(l SessionLog) SessionOption {
	return base.WithSessionLog(l)
}

func WithoutSessionLog() SessionOption {
	return base.WithoutSessionLog()
}

func WithRuleConfig(cfg *RuleConfig) SessionOption {
	return base.WithRuleConfig(cfg)
}

func WithDecoder(d Decoder) SessionOption {
	return base.WithDecoder(d)
}

func WithQueue(q LineQueue) SessionOption {
	return base.WithQueue(q)
}

func WithSleeper(fn SleepFunc) SessionOption {
	return base.WithSleeper(fn)
}

func WithStateHook(fn func(ConnectionState)) SessionOption {
	return base.WithStateHook(fn)
}

func WithStatusHook(fn func(string)) SessionOption {
	return base.WithStatusHook(fn)
}

// Sink adapters.
func NewCallbackSink(name string, fn BatchHandler) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan Batch, func()) {
	return base.NewChannelSink(name, buffer)
}
