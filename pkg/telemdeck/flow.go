package telemdeck

import (
	"context"
	"errors"
)

// Flow builds a Session in three steps. Conf picks the configuration,
// StreamIN decides where console lines come from and StreamOUT decides where
// tick batches go. Overrides are applied in call order, so a later transport
// or observability override replaces an earlier one while sinks accumulate.
type Flow struct {
	cfg  *Config
	opts []SessionOption
}

// FlowOption adjusts a Flow right after its configuration is known.
type FlowOption func(*Flow)

// StreamInOption overrides the reading side: transport, queue, session log
// and connection hooks.
type StreamInOption func(*Flow)

// StreamOutOption overrides the consuming side: sinks, rules, decoding and
// observability.
type StreamOutOption func(*Flow)

// Conf loads a YAML config file and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from cfg. cfg is used as is; later edits
// through Config are seen by the Session StreamOUT builds.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options adds SessionOption values that have no StreamIN or StreamOUT form.
func (f *Flow) Options(opts ...SessionOption) *Flow {
	if f == nil {
		return nil
	}
	f.use(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies opts and builds the Session. The session is not
// connected yet; call Run or Connect.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Session, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewSession(f.cfg, f.opts...)
}

// Run builds the Session and runs it until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	s, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

func WithFlowOptions(opts ...SessionOption) FlowOption {
	return func(f *Flow) { f.use(opts...) }
}

// StreamInSource switches transport.kind and, when address is not empty,
// transport.address. Kinds are the Transport* constants.
func StreamInSource(kind, address string) StreamInOption {
	return func(f *Flow) {
		f.cfg.Transport.Kind = kind
		if address != "" {
			f.cfg.Transport.Address = address
		}
	}
}

// StreamInTransport reads from t instead of the configured kind.
func StreamInTransport(t Transport) StreamInOption {
	if t == nil {
		return nil
	}
	return streamIn(WithTransport(t))
}

func StreamInQueue(q LineQueue) StreamInOption {
	if q == nil {
		return nil
	}
	return streamIn(WithQueue(q))
}

// StreamInSessionLog records raw lines into l instead of session_log.dir.
func StreamInSessionLog(l SessionLog) StreamInOption {
	if l == nil {
		return nil
	}
	return streamIn(WithSessionLog(l))
}

// StreamInStatusHook receives the transport status messages as they happen,
// before they show up in the next batch.
func StreamInStatusHook(fn func(string)) StreamInOption {
	if fn == nil {
		return nil
	}
	return streamIn(WithStatusHook(fn))
}

func StreamInStateHook(fn func(ConnectionState)) StreamInOption {
	if fn == nil {
		return nil
	}
	return streamIn(WithStateHook(fn))
}

func StreamInObservability(obs Observability) StreamInOption {
	if obs == nil {
		return nil
	}
	return streamIn(WithObservability(obs))
}

// StreamOutSink adds s next to the sinks the config enables.
func StreamOutSink(s Sink) StreamOutOption {
	if s == nil {
		return nil
	}
	return streamOut(WithSink(s))
}

// StreamOutCallback calls fn with every tick batch.
func StreamOutCallback(name string, fn BatchHandler) StreamOutOption {
	return streamOut(WithSink(NewCallbackSink(name, fn)))
}

// StreamOutRules evaluates alerts with cfg; rules.path is not read.
func StreamOutRules(cfg *RuleConfig) StreamOutOption {
	if cfg == nil {
		return nil
	}
	return streamOut(WithRuleConfig(cfg))
}

// StreamOutDecoder parses queued lines with d instead of the console line
// protocol.
func StreamOutDecoder(d Decoder) StreamOutOption {
	if d == nil {
		return nil
	}
	return streamOut(WithDecoder(d))
}

func StreamOutObservability(obs Observability) StreamOutOption {
	if obs == nil {
		return nil
	}
	return streamOut(WithObservability(obs))
}

func streamIn(opt SessionOption) StreamInOption {
	return func(f *Flow) { f.use(opt) }
}

func streamOut(opt SessionOption) StreamOutOption {
	return func(f *Flow) { f.use(opt) }
}

func (f *Flow) use(opts ...SessionOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
