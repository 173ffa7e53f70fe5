package validate

import (
	"testing"
	"time"
)

func TestValidateAppliesDefaults(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "channel_id", Type: TypeString, Required: true},
		{Name: "retries", Type: TypeInt, Default: int64(3)},
	}}

	out, err := Validate(schema, map[string]any{"channel_id": "123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["retries"] != int64(3) {
		t.Fatalf("expected default retries=3, got %v", out["retries"])
	}
}

func TestValidateMissingRequiredField(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "channel_id", Type: TypeString, Required: true}}}

	_, err := Validate(schema, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required field")
	}
	if _, ok := err.(*MissingFieldError); !ok {
		t.Fatalf("expected MissingFieldError, got %T", err)
	}
}

func TestValidateCoercesStringToInt(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "limit", Type: TypeInt}}}

	out, err := Validate(schema, map[string]any{"limit": "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["limit"] != int64(42) {
		t.Fatalf("expected 42, got %v (%T)", out["limit"], out["limit"])
	}
}

func TestValidateCoercesDuration(t *testing.T) {
	schema := Schema{Fields: []Field{IntervalSchemaField(60)}}

	out, err := Validate(schema, map[string]any{"interval": "5m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["interval"] != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", out["interval"])
	}

	out, err = Validate(schema, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["interval"] != 60*time.Second {
		t.Fatalf("expected default 60s, got %v", out["interval"])
	}
}

func TestValidatePreservesUnknownFields(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "channel_id", Type: TypeString}}}

	out, err := Validate(schema, map[string]any{"channel_id": "1", "token": "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["token"] != "secret" {
		t.Fatalf("expected unknown field to pass through, got %v", out["token"])
	}
}

func TestValidateTypeError(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "limit", Type: TypeInt}}}

	_, err := Validate(schema, map[string]any{"limit": "not-a-number"})
	if err == nil {
		t.Fatal("expected type error")
	}
	if _, ok := err.(*TypeError); !ok {
		t.Fatalf("expected TypeError, got %T", err)
	}
}

func TestLastRunDefault(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got := LastRunDefault(now, 90*time.Second)
	want := "2026-01-01T11:58:30Z"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCoerceDuration(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want time.Duration
	}{
		{"float64 seconds from JSON", float64(2), 2 * time.Second},
		{"int seconds", 5, 5 * time.Second},
		{"numeric string seconds", "30", 30 * time.Second},
		{"human duration string", "5m", 5 * time.Minute},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CoerceDuration(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCoerceDurationInvalid(t *testing.T) {
	if _, err := CoerceDuration("fast"); err == nil {
		t.Fatal("expected error for non-numeric, non-duration string")
	}
}
