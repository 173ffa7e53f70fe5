// Package timer provides the clock-driven component kinds: time_trigger
// (fires once per Evaluator tick), date_trigger (fires once a target
// instant has passed), hourly_trigger (fires once per day at a target
// time-of-day) and time_action (a no-op action used to exercise a Reaction
// on its own).
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

func init() {
	registry.RegisterTrigger("time_trigger", "", Schema, func(string) registry.Trigger { return &TimeTrigger{} })
	registry.RegisterTrigger("date_trigger", "", DateTriggerSchema, func(string) registry.Trigger { return &DateTrigger{} })
	registry.RegisterTrigger("hourly_trigger", "", HourlyTriggerSchema, func(string) registry.Trigger { return &HourlyTrigger{} })
	registry.RegisterAction("time_action", "", validate.Schema{}, func() registry.Action { return &TimeAction{} })
}

// Schema is the implicit interval/token fields time_trigger declares; the
// Evaluator already gates call spacing by "interval",
// so Evaluate itself has nothing left to check for TimeTrigger.
var Schema = validate.Schema{
	Fields: []validate.Field{
		validate.IntervalSchemaField(1),
		validate.TokenSchemaField(),
	},
}

// TimeTrigger fires every time Evaluate is called. Its "once per interval"
// semantics come entirely from the Evaluator's own sleep loop — there is no
// last_run bookkeeping here, since the Evaluator already enforces the
// spacing.
type TimeTrigger struct{}

func (t *TimeTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	if _, err := validate.Validate(Schema, config); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &registry.TriggerResult{Data: map[string]any{
		"triggered_at": epochSeconds(now),
	}}, nil
}

// DateTriggerSchema declares the ISO-8601 target_date field.
var DateTriggerSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "target_date", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// DateTrigger fires once, the first time Evaluate is called after
// target_date has passed, and never again.
type DateTrigger struct {
	mu    sync.Mutex
	fired bool
}

func (t *DateTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(DateTriggerSchema, config)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return nil, nil
	}

	target, err := time.Parse(time.RFC3339, cfg["target_date"].(string))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if now.Before(target) {
		return nil, nil
	}

	t.fired = true
	return &registry.TriggerResult{Data: map[string]any{
		"triggered_at": epochSeconds(now),
	}}, nil
}

// HourlyTriggerSchema declares the "HH:MM:SS" target_time field.
var HourlyTriggerSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "target_time", Type: validate.TypeString, Required: true},
		validate.TokenSchemaField(),
	},
}

// HourlyTrigger fires once per calendar day, the first Evaluate call at or
// after target_time (a UTC time-of-day).
type HourlyTrigger struct {
	mu            sync.Mutex
	lastFiredDate string
}

func (t *HourlyTrigger) Evaluate(ctx context.Context, config map[string]any) (*registry.TriggerResult, error) {
	cfg, err := validate.Validate(HourlyTriggerSchema, config)
	if err != nil {
		return nil, err
	}

	targetTime, err := time.Parse("15:04:05", cfg["target_time"].(string))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), targetTime.Hour(), targetTime.Minute(), targetTime.Second(), 0, time.UTC)
	dateKey := now.Format("2006-01-02")

	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(today) || t.lastFiredDate == dateKey {
		return nil, nil
	}

	t.lastFiredDate = dateKey
	return &registry.TriggerResult{Data: map[string]any{
		"triggered_at": epochSeconds(now),
	}}, nil
}

// epochSeconds converts t to seconds since the Unix epoch as a
// floating-point number, the wire format event_data.triggered_at uses
// across every trigger kind.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// TimeAction performs no side effect; it exists to pair with a Reaction
// when an Area has nothing meaningful to act on besides the Trigger's own
// event data.
type TimeAction struct{}

func (a *TimeAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	return map[string]any{
		"success": true,
		"message": "time action executed successfully",
	}, nil
}
