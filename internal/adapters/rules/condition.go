package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ghalamif/telemdeck/internal/domain"
)

// ConditionParseError reports a condition line that was skipped at load.
type ConditionParseError struct {
	Source string
	Reason string
}

func (e *ConditionParseError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Source, e.Reason)
}

// Two-character operators are matched first so "<=" is not read as "<".
var compareOps = []domain.CompareOp{
	domain.OpLessEqual,
	domain.OpGreaterEqual,
	domain.OpNotEqual,
	domain.OpEqual,
	domain.OpLess,
	domain.OpGreater,
}

// ParseCondition parses `priority: expression: message-template`.
func ParseCondition(src string) (domain.Condition, error) {
	fail := func(format string, args ...any) (domain.Condition, error) {
		return domain.Condition{}, &ConditionParseError{Source: src, Reason: fmt.Sprintf(format, args...)}
	}

	parts := strings.SplitN(src, ":", 3)
	if len(parts) != 3 {
		return fail("expected priority: expression: message")
	}
	prio, err := domain.ParsePriority(parts[0])
	if err != nil {
		return fail("%v", err)
	}
	expr := strings.TrimSpace(parts[1])
	if expr == "" {
		return fail("empty expression")
	}

	join := domain.JoinNone
	sep := ""
	hasAnd, hasOr := strings.Contains(expr, "&"), strings.Contains(expr, "|")
	switch {
	case hasAnd && hasOr:
		return fail("mixed & and | in one expression")
	case hasAnd:
		join, sep = domain.JoinAnd, "&"
	case hasOr:
		join, sep = domain.JoinOr, "|"
	}

	pieces := []string{expr}
	if sep != "" {
		pieces = strings.Split(expr, sep)
	}
	atoms := make([]domain.Atom, 0, len(pieces))
	for _, p := range pieces {
		atom, err := parseAtom(p)
		if err != nil {
			return fail("%v", err)
		}
		atoms = append(atoms, atom)
	}

	return domain.Condition{
		Priority: prio,
		Atoms:    atoms,
		Join:     join,
		Template: strings.TrimSpace(parts[2]),
		Source:   src,
	}, nil
}

func parseAtom(s string) (domain.Atom, error) {
	s = strings.TrimSpace(s)
	for _, op := range compareOps {
		i := strings.Index(s, string(op))
		if i < 0 {
			continue
		}
		name := strings.TrimSpace(s[:i])
		if name == "" || strings.ContainsAny(name, " \t") {
			return domain.Atom{}, fmt.Errorf("bad variable in %q", s)
		}
		raw := strings.TrimSpace(s[i+len(op):])
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Atom{}, fmt.Errorf("threshold %q is not a number", raw)
		}
		return domain.Atom{Var: name, Op: op, Threshold: threshold}, nil
	}
	return domain.Atom{}, fmt.Errorf("no comparison operator in %q", s)
}
