package timer

import (
	"context"
	"testing"
	"time"
)

func TestTimeTriggerFiresEveryCall(t *testing.T) {
	trig := &TimeTrigger{}

	before := float64(time.Now().UTC().Unix())
	result, err := trig.Evaluate(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result == nil {
		t.Fatal("expected a firing, got nil")
	}

	triggeredAt, ok := result.Data["triggered_at"].(float64)
	if !ok {
		t.Fatalf("expected triggered_at to be a float64, got %T", result.Data["triggered_at"])
	}
	if triggeredAt < before-1 || triggeredAt > before+2 {
		t.Fatalf("expected triggered_at near now (%v), got %v", before, triggeredAt)
	}

	// A second call fires again; TimeTrigger keeps no state of its own.
	result, err = trig.Evaluate(context.Background(), map[string]any{})
	if err != nil || result == nil {
		t.Fatalf("expected a second firing, got result=%v err=%v", result, err)
	}
}

func TestDateTriggerFiresOnceAfterTarget(t *testing.T) {
	trig := &DateTrigger{}
	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)

	result, err := trig.Evaluate(context.Background(), map[string]any{"target_date": past})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result == nil {
		t.Fatal("expected a firing for a past target_date")
	}
	if _, ok := result.Data["triggered_at"].(float64); !ok {
		t.Fatalf("expected triggered_at to be a float64, got %T", result.Data["triggered_at"])
	}

	result, err = trig.Evaluate(context.Background(), map[string]any{"target_date": past})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result != nil {
		t.Fatal("expected no second firing once DateTrigger has fired")
	}
}

func TestDateTriggerNoFireBeforeTarget(t *testing.T) {
	trig := &DateTrigger{}
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	result, err := trig.Evaluate(context.Background(), map[string]any{"target_date": future})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result != nil {
		t.Fatal("expected no firing before target_date")
	}
}

func TestHourlyTriggerFiresOncePerDay(t *testing.T) {
	trig := &HourlyTrigger{}
	past := time.Now().UTC().Add(-time.Minute).Format("15:04:05")

	result, err := trig.Evaluate(context.Background(), map[string]any{"target_time": past})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result == nil {
		t.Fatal("expected a firing once target_time has passed today")
	}

	result, err = trig.Evaluate(context.Background(), map[string]any{"target_time": past})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result != nil {
		t.Fatal("expected no second firing the same calendar day")
	}
}

func TestTimeActionRun(t *testing.T) {
	a := &TimeAction{}
	out, err := a.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if success, _ := out["success"].(bool); !success {
		t.Fatalf("expected success=true, got %v", out["success"])
	}
}
