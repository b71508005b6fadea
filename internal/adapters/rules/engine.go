package rules

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

// DefaultCodeKey is the data field holding the device error code.
const DefaultCodeKey = "Di"

var okCodes = []string{"0x0", "0"}

// Engine evaluates error codes and dynamic conditions against data records.
// The rule set can be swapped at runtime; Evaluate never returns an error.
type Engine struct {
	mu      sync.RWMutex
	cfg     *Config
	codeKey string
}

type Option func(*Engine)

// WithCodeKey changes which data field is looked up in the error code table.
func WithCodeKey(key string) Option {
	return func(e *Engine) {
		if key != "" {
			e.codeKey = key
		}
	}
}

func NewEngine(cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = Default()
	}
	e := &Engine{cfg: cfg, codeKey: DefaultCodeKey}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) Config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Reload re-reads the rule file the current config came from. The new rule
// set is installed even when the returned error reports skipped entries.
func (e *Engine) Reload() error {
	path := e.Config().Path
	if path == "" {
		return nil
	}
	cfg, err := LoadConfig(path)
	e.Replace(cfg)
	return err
}

// LookupErrorCode returns the first entry listing code among its aliases.
func (e *Engine) LookupErrorCode(code string) (domain.ErrorCodeEntry, bool) {
	for _, entry := range e.Config().ErrorCodes {
		if entry.Matches(code) {
			return entry, true
		}
	}
	return domain.ErrorCodeEntry{}, false
}

// ResolveErrorCode always yields an alert: the configured entry, the built-in
// OK alert for the canonical no-error codes, or a critical unknown-code alert.
func (e *Engine) ResolveErrorCode(code string) domain.Alert {
	if entry, ok := e.LookupErrorCode(code); ok {
		return entry.Alert()
	}
	if slices.Contains(okCodes, code) {
		return domain.Alert{Priority: domain.PriorityInfo, Message: "OK - System operational", Source: domain.SourceErrorCode}
	}
	return domain.Alert{
		Priority: domain.PriorityCritical,
		Message:  fmt.Sprintf("Unknown error code: %s", code),
		Source:   domain.SourceErrorCode,
	}
}

// Evaluate returns the alerts raised by a data record, most severe first.
// Alerts of equal priority keep declaration order with the error code alert
// ahead of all conditions.
func (e *Engine) Evaluate(rec domain.Record) []domain.Alert {
	if rec.Kind != domain.KindData {
		return nil
	}
	cfg := e.Config()

	var alerts []domain.Alert
	if code, ok := rec.Get(e.codeKey); ok {
		alerts = append(alerts, e.ResolveErrorCode(code.Raw))
	}
	for _, cond := range cfg.Conditions {
		if alert, ok := evalCondition(cond, rec); ok {
			alerts = append(alerts, alert)
		}
	}

	slices.SortStableFunc(alerts, func(a, b domain.Alert) int {
		return int(b.Priority) - int(a.Priority)
	})
	return alerts
}

func evalCondition(cond domain.Condition, rec domain.Record) (alert domain.Alert, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			alert, fired = domain.Alert{}, false
		}
	}()

	if !Matches(cond, rec) {
		return domain.Alert{}, false
	}
	return domain.Alert{
		Priority: cond.Priority,
		Message:  Render(cond.Template, rec),
		Source:   domain.SourceCondition,
	}, true
}

// Matches evaluates the condition expression. An atom whose variable is
// missing or not numeric is false.
func Matches(cond domain.Condition, rec domain.Record) bool {
	if len(cond.Atoms) == 0 {
		return false
	}
	holds := func(a domain.Atom) bool {
		v, ok := rec.Number(a.Var)
		return ok && a.Op.Apply(v, a.Threshold)
	}
	switch cond.Join {
	case domain.JoinOr:
		return slices.ContainsFunc(cond.Atoms, holds)
	default:
		for _, a := range cond.Atoms {
			if !holds(a) {
				return false
			}
		}
		return true
	}
}

var _ ports.RuleEvaluator = (*Engine)(nil)
