package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Priority ranks alerts; higher is more severe.
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityError
	PriorityCritical
)

// ParsePriority accepts the lowercase level names used in rule files.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return PriorityInfo, nil
	case "warning":
		return PriorityWarning, nil
	case "error":
		return PriorityError, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityInfo, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityWarning:
		return "warning"
	case PriorityError:
		return "error"
	case PriorityCritical:
		return "critical"
	default:
		return "info"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// AlertSource says which part of the rule set produced an alert.
type AlertSource string

const (
	SourceErrorCode AlertSource = "error-code"
	SourceCondition AlertSource = "condition"
)

// Alert is a resolved, operator-facing message. Alerts are recomputed on every
// tick and never stored.
type Alert struct {
	Priority Priority    `json:"priority" msgpack:"priority"`
	Message  string      `json:"message" msgpack:"message"`
	Source   AlertSource `json:"source" msgpack:"source"`
	Action   string      `json:"action,omitempty" msgpack:"action,omitempty"`
}

// ErrorCodeEntry maps one or more literal code aliases to an alert.
type ErrorCodeEntry struct {
	Codes    []string
	Priority Priority
	Message  string
	Action   string
}

// Matches reports whether code equals one of the entry aliases.
func (e ErrorCodeEntry) Matches(code string) bool {
	return slices.Contains(e.Codes, code)
}

func (e ErrorCodeEntry) Alert() Alert {
	return Alert{
		Priority: e.Priority,
		Message:  e.Message,
		Source:   SourceErrorCode,
		Action:   e.Action,
	}
}

// CompareOp is a threshold comparison operator.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpGreater      CompareOp = ">"
	OpLessEqual    CompareOp = "<="
	OpGreaterEqual CompareOp = ">="
	OpEqual        CompareOp = "=="
	OpNotEqual     CompareOp = "!="
)

// Apply compares v against threshold.
func (op CompareOp) Apply(v, threshold float64) bool {
	switch op {
	case OpLess:
		return v < threshold
	case OpGreater:
		return v > threshold
	case OpLessEqual:
		return v <= threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpEqual:
		return v == threshold
	case OpNotEqual:
		return v != threshold
	default:
		return false
	}
}

// Join is the single logical operator used between the atoms of a condition.
type Join uint8

const (
	JoinNone Join = iota
	JoinAnd
	JoinOr
)

// Atom is one `var op threshold` comparison.
type Atom struct {
	Var       string
	Op        CompareOp
	Threshold float64
}

// Condition is a parsed dynamic rule.
type Condition struct {
	Priority Priority
	Atoms    []Atom
	Join     Join
	Template string
	Source   string
}
