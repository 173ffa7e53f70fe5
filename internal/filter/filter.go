// Package filter evaluates the closed-operator-set condition DSL attached
// to an Area against a Trigger's event data.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rakunlabs/area-core/internal/domain"
)

// UnsupportedOperatorError is returned when a FilterCondition names an
// operator outside the closed set. The DSL has no extension point: this is
// always a configuration mistake, never a runtime condition to recover from
// by falling back to a default.
type UnsupportedOperatorError struct {
	Operator domain.Operator
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported filter operator: %q", e.Operator)
}

// UnsupportedMatchError is returned when a Filter names a match logic
// outside {all, any}.
type UnsupportedMatchError struct {
	Match domain.MatchLogic
}

func (e *UnsupportedMatchError) Error() string {
	return fmt.Sprintf("unsupported filter match logic: %q", e.Match)
}

// FromConfig extracts the *domain.Filter an Evaluator attached to an
// Action's config under "filter", if any. The Evaluator sets it as a typed
// *domain.Filter directly, but a Job that traveled through the Job Queue
// arrives JSON round-tripped, so the same value shows up as a plain
// map[string]any by the time an Action reads it back out of its config —
// FromConfig accepts either shape. A nil/absent value is not an error: it
// means the Area carries no Filter at all.
func FromConfig(v any) (*domain.Filter, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case *domain.Filter:
		return f, nil
	case domain.Filter:
		return &f, nil
	case map[string]any:
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("filter: re-marshal config filter: %w", err)
		}
		var out domain.Filter
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("filter: decode config filter: %w", err)
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("filter: unsupported filter config shape %T", v)
	}
}

// Evaluate reports whether data satisfies f. A nil Filter always matches —
// an Area without a filter lets every Trigger firing through to its Reaction.
func Evaluate(f *domain.Filter, data map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}

	results := make([]bool, len(f.Conditions))
	for i, cond := range f.Conditions {
		ok, err := evaluateCondition(cond, data)
		if err != nil {
			return false, err
		}
		results[i] = ok
	}

	switch f.Match {
	case domain.MatchAll, "":
		for _, ok := range results {
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case domain.MatchAny:
		for _, ok := range results {
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &UnsupportedMatchError{Match: f.Match}
	}
}

// evaluateCondition evaluates one condition against data. A missing field
// is always a non-match, mirroring the original's "field absent -> False"
// behavior rather than raising.
func evaluateCondition(cond domain.FilterCondition, data map[string]any) (bool, error) {
	fieldValue, ok := data[cond.Field]
	if !ok || fieldValue == nil {
		return false, nil
	}

	switch cond.Operator {
	case domain.OpContains:
		s, ok := fieldValue.(string)
		if !ok {
			return false, nil
		}
		v, ok := cond.Value.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, v), nil

	case domain.OpEquals:
		return strictEqual(fieldValue, cond.Value), nil

	case domain.OpNotEquals:
		return !strictEqual(fieldValue, cond.Value), nil

	case domain.OpStartsWith:
		s, ok := fieldValue.(string)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(s, fmt.Sprint(cond.Value)), nil

	case domain.OpEndsWith:
		s, ok := fieldValue.(string)
		if !ok {
			return false, nil
		}
		return strings.HasSuffix(s, fmt.Sprint(cond.Value)), nil

	case domain.OpGreaterThan:
		return compareOrdered(fieldValue, cond.Value, func(c int) bool { return c > 0 })

	case domain.OpLessThan:
		return compareOrdered(fieldValue, cond.Value, func(c int) bool { return c < 0 })

	default:
		return false, &UnsupportedOperatorError{Operator: cond.Operator}
	}
}

// strictEqual compares two field values without the loose
// stringify-then-compare shortcut: numeric operands (regardless of which
// concrete Go numeric type the JSON decoder or Config Validator produced)
// compare as numbers, strings compare exactly, everything else falls back
// to a plain Go equality check.
func strictEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	return a == b
}

// compareOrdered compares two field values numerically when both are
// numbers, or lexicographically when both are strings — the original's
// greater_than/less_than conditions run against both numeric thresholds
// and plain string fields (e.g. comparing usernames or message content).
// judge receives the sign of the comparison: negative if a < b, positive
// if a > b, zero if equal.
func compareOrdered(a, b any, judge func(c int) bool) (bool, error) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return judge(-1), nil
			case af > bf:
				return judge(1), nil
			default:
				return judge(0), nil
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return judge(strings.Compare(as, bs)), nil
		}
	}
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
