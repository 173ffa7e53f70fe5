// Package validate implements the Config Validator: it checks an Area's
// stored option map against a component's declared Schema, fills in
// defaults, coerces a handful of primitive types, and never rejects a
// field the schema didn't declare — unknown options are preserved
// verbatim, the same Extra.allow behavior the original Python config
// models used for reaction/action parameters.
package validate

import (
	"fmt"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// FieldType is the small set of primitive types a Schema field can declare.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeDuration FieldType = "duration"
)

// Field declares one option a component's config accepts.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Default is used when the field is absent and not Required. Ignored
	// for Required fields.
	Default any
}

// Schema is the full set of fields a component's config may carry.
// Components declare Schema once (at registration time, alongside their
// factory) and the Config Validator enforces it whenever an Area's stored
// config for that component is loaded.
type Schema struct {
	Fields []Field
}

// MissingFieldError is returned when a Required field has no value.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("validate: required field %q is missing", e.Field)
}

// TypeError is returned when a value can't be coerced to the field's
// declared type.
type TypeError struct {
	Field string
	Type  FieldType
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("validate: field %q has value %v, want type %s", e.Field, e.Value, e.Type)
}

// Validate checks options against schema, returning a new map with
// defaults applied and declared fields coerced to their Go type
// (string/int64/float64/bool/time.Duration). Fields present in options
// but not declared in schema are copied through unchanged — the Config
// Validator never fails a config for carrying extra data, since trigger
// event payloads and implicit runtime fields (token, interval, last_run)
// ride alongside user-declared options in the same map.
func Validate(schema Schema, options map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v
	}

	declared := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		declared[f.Name] = struct{}{}

		raw, present := options[f.Name]
		if !present {
			if f.Required {
				return nil, &MissingFieldError{Field: f.Name}
			}
			out[f.Name] = f.Default
			continue
		}

		coerced, err := coerce(f.Type, raw)
		if err != nil {
			return nil, &TypeError{Field: f.Name, Type: f.Type, Value: raw}
		}
		out[f.Name] = coerced
	}

	return out, nil
}

func coerce(t FieldType, v any) (any, error) {
	switch t {
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		default:
			return fmt.Sprint(v), nil
		}

	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to int", v)
		}

	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", v)
		}

	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to bool", v)
		}

	case TypeDuration:
		switch d := v.(type) {
		case string:
			dur, err := str2duration.ParseDuration(d)
			if err == nil {
				return dur, nil
			}
			// Fall back to a bare integer number of seconds, the shape the
			// original stored "interval" in.
			secs, serr := strconv.ParseInt(d, 10, 64)
			if serr != nil {
				return nil, err
			}
			return time.Duration(secs) * time.Second, nil
		case int:
			return time.Duration(d) * time.Second, nil
		case int64:
			return time.Duration(d) * time.Second, nil
		case float64:
			return time.Duration(d) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to duration", v)
		}

	default:
		return v, nil
	}
}

// IntervalSchemaField is the implicit "interval" field a polling Trigger's
// schema can declare, defaulting to defaultSeconds seconds when absent.
func IntervalSchemaField(defaultSeconds int64) Field {
	return Field{Name: "interval", Type: TypeDuration, Default: time.Duration(defaultSeconds) * time.Second}
}

// TokenSchemaField is the implicit "token" field the Evaluator injects into
// Trigger/Action/Reaction config from the Credential Resolver (the
// Supervisor does the same for its trigger-config check); it is never required at
// validation time since triggerless dry-runs and reactions with no
// credential requirement both omit it legitimately.
func TokenSchemaField() Field {
	return Field{Name: "token", Type: TypeString, Default: ""}
}

// CoerceDuration converts v into a time.Duration the same way the Config
// Validator coerces a TypeDuration field (human durations like "5m", a bare
// numeric seconds count in any JSON-decoded numeric type, or a numeric
// string). Callers that already hold a raw, not-yet-validated option map —
// the Evaluator reading its own "interval" field out of an Area's stored
// trigger_config — use this instead of re-running the whole Schema.
func CoerceDuration(v any) (time.Duration, error) {
	d, err := coerce(TypeDuration, v)
	if err != nil {
		return 0, err
	}
	return d.(time.Duration), nil
}

// LastRunDefault returns the default "last_run" value for a Trigger whose
// Area has never run before: now minus interval, so the first tick fires
// immediately instead of waiting a full interval.
func LastRunDefault(now time.Time, interval time.Duration) string {
	return now.Add(-interval).Format(time.RFC3339)
}
