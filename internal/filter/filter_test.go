package filter

import (
	"testing"

	"github.com/rakunlabs/area-core/internal/domain"
)

func TestEvaluateMatchAll(t *testing.T) {
	f := &domain.Filter{
		Match: domain.MatchAll,
		Conditions: []domain.FilterCondition{
			{Field: "content", Operator: domain.OpContains, Value: "urgent"},
			{Field: "channel_id", Operator: domain.OpEquals, Value: "12345"},
		},
	}

	ok, err := Evaluate(f, map[string]any{"content": "this is urgent", "channel_id": "12345"})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = Evaluate(f, map[string]any{"content": "nothing here", "channel_id": "12345"})
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateMatchAny(t *testing.T) {
	f := &domain.Filter{
		Match: domain.MatchAny,
		Conditions: []domain.FilterCondition{
			{Field: "content", Operator: domain.OpStartsWith, Value: "!deploy"},
			{Field: "content", Operator: domain.OpEndsWith, Value: "now"},
		},
	}

	ok, err := Evaluate(f, map[string]any{"content": "do it now"})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateMissingFieldIsNoMatch(t *testing.T) {
	f := &domain.Filter{
		Match:      domain.MatchAll,
		Conditions: []domain.FilterCondition{{Field: "missing", Operator: domain.OpEquals, Value: "x"}},
	}

	ok, err := Evaluate(f, map[string]any{"other": "x"})
	if err != nil || ok {
		t.Fatalf("expected no match for missing field, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateNumericComparisons(t *testing.T) {
	f := &domain.Filter{
		Match:      domain.MatchAll,
		Conditions: []domain.FilterCondition{{Field: "count", Operator: domain.OpGreaterThan, Value: float64(10)}},
	}

	ok, err := Evaluate(f, map[string]any{"count": float64(11)})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = Evaluate(f, map[string]any{"count": float64(9)})
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateStringOrderedComparisons(t *testing.T) {
	f := &domain.Filter{
		Match:      domain.MatchAll,
		Conditions: []domain.FilterCondition{{Field: "username", Operator: domain.OpGreaterThan, Value: "alice"}},
	}

	ok, err := Evaluate(f, map[string]any{"username": "bob"})
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = Evaluate(f, map[string]any{"username": "aaron"})
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateStrictEqualityRejectsTypeMismatch(t *testing.T) {
	f := &domain.Filter{
		Match:      domain.MatchAll,
		Conditions: []domain.FilterCondition{{Field: "count", Operator: domain.OpEquals, Value: "5"}},
	}

	ok, err := Evaluate(f, map[string]any{"count": float64(5)})
	if err != nil || ok {
		t.Fatalf("expected string \"5\" not to strictly equal numeric 5, got ok=%v err=%v", ok, err)
	}
}

func TestEvaluateUnsupportedOperator(t *testing.T) {
	f := &domain.Filter{
		Conditions: []domain.FilterCondition{{Field: "x", Operator: "regex_match", Value: "y"}},
	}

	_, err := Evaluate(f, map[string]any{"x": "y"})
	var unsupported *UnsupportedOperatorError
	if err == nil {
		t.Fatal("expected error for unsupported operator")
	}
	if !asUnsupportedOperator(err, &unsupported) {
		t.Fatalf("expected UnsupportedOperatorError, got %T: %v", err, err)
	}
}

func TestEvaluateUnsupportedMatch(t *testing.T) {
	f := &domain.Filter{
		Match:      "xor",
		Conditions: []domain.FilterCondition{{Field: "x", Operator: domain.OpEquals, Value: "y"}},
	}

	_, err := Evaluate(f, map[string]any{"x": "y"})
	if err == nil {
		t.Fatal("expected error for unsupported match logic")
	}
}

func TestEvaluateNilFilterAlwaysMatches(t *testing.T) {
	ok, err := Evaluate(nil, map[string]any{"anything": "goes"})
	if err != nil || !ok {
		t.Fatalf("expected nil filter to always match, got ok=%v err=%v", ok, err)
	}
}

func asUnsupportedOperator(err error, target **UnsupportedOperatorError) bool {
	if e, ok := err.(*UnsupportedOperatorError); ok {
		*target = e
		return true
	}
	return false
}
