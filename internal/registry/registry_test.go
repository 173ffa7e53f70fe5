package registry

import (
	"context"
	"testing"

	"github.com/rakunlabs/area-core/internal/validate"
)

type stubTrigger struct{ areaID string }

func (s *stubTrigger) Evaluate(ctx context.Context, config map[string]any) (*TriggerResult, error) {
	return nil, nil
}

type stubAction struct{}

func (s *stubAction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	return params, nil
}

type stubReaction struct{}

func (s *stubReaction) Run(ctx context.Context, params, config map[string]any) (map[string]any, error) {
	return params, nil
}

func TestRegisterAndNewTrigger(t *testing.T) {
	RegisterTrigger("registry_test_trigger", "", validate.Schema{}, func(areaID string) Trigger { return &stubTrigger{areaID: areaID} })

	trig, err := NewTrigger("registry_test_trigger", "area-1")
	if err != nil {
		t.Fatalf("NewTrigger: %v", err)
	}
	st, ok := trig.(*stubTrigger)
	if !ok {
		t.Fatalf("expected *stubTrigger, got %T", trig)
	}
	if st.areaID != "area-1" {
		t.Fatalf("expected areaID to be passed through, got %q", st.areaID)
	}
}

func TestNewTriggerUnknown(t *testing.T) {
	if _, err := NewTrigger("registry_test_does_not_exist", "area-1"); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestRegisterTriggerDuplicatePanics(t *testing.T) {
	RegisterTrigger("registry_test_dup_trigger", "", validate.Schema{}, func(string) Trigger { return &stubTrigger{} })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate trigger registration")
		}
	}()
	RegisterTrigger("registry_test_dup_trigger", "", validate.Schema{}, func(string) Trigger { return &stubTrigger{} })
}

func TestRegisterAndNewAction(t *testing.T) {
	RegisterAction("registry_test_action", "", validate.Schema{}, func() Action { return &stubAction{} })

	act, err := NewAction("registry_test_action")
	if err != nil {
		t.Fatalf("NewAction: %v", err)
	}
	if _, ok := act.(*stubAction); !ok {
		t.Fatalf("expected *stubAction, got %T", act)
	}

	if _, err := NewAction("registry_test_unknown_action"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestRegisterAndNewReaction(t *testing.T) {
	RegisterReaction("registry_test_reaction", "", validate.Schema{}, func() Reaction { return &stubReaction{} })

	r, err := NewReaction("registry_test_reaction")
	if err != nil {
		t.Fatalf("NewReaction: %v", err)
	}
	if _, ok := r.(*stubReaction); !ok {
		t.Fatalf("expected *stubReaction, got %T", r)
	}

	if _, err := NewReaction("registry_test_unknown_reaction"); err == nil {
		t.Fatal("expected error for unknown reaction")
	}
}

func TestTriggerSchemaLookup(t *testing.T) {
	schema := validate.Schema{Fields: []validate.Field{{Name: "channel_id", Type: validate.TypeString, Required: true}}}
	RegisterTrigger("registry_test_schema_trigger", "github", schema, func(string) Trigger { return &stubTrigger{} })

	got, ok := TriggerSchema("registry_test_schema_trigger")
	if !ok {
		t.Fatal("expected schema to be found")
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "channel_id" {
		t.Fatalf("expected schema fields to round-trip, got %+v", got.Fields)
	}

	if _, ok := TriggerSchema("registry_test_schema_trigger_missing"); ok {
		t.Fatal("expected missing schema lookup to report false")
	}

	if got := TriggerService("registry_test_schema_trigger"); got != "github" {
		t.Fatalf("expected trigger service %q, got %q", "github", got)
	}
}

func TestActionSchemaLookup(t *testing.T) {
	schema := validate.Schema{Fields: []validate.Field{{Name: "commit_sha", Type: validate.TypeString, Required: true}}}
	RegisterAction("registry_test_schema_action", "github", schema, func() Action { return &stubAction{} })

	got, ok := ActionSchema("registry_test_schema_action")
	if !ok {
		t.Fatal("expected schema to be found")
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "commit_sha" {
		t.Fatalf("expected schema fields to round-trip, got %+v", got.Fields)
	}

	if _, ok := ActionSchema("registry_test_schema_action_missing"); ok {
		t.Fatal("expected missing schema lookup to report false")
	}
}

func TestReactionSchemaLookup(t *testing.T) {
	schema := validate.Schema{Fields: []validate.Field{{Name: "channel_id", Type: validate.TypeString, Required: true}}}
	RegisterReaction("registry_test_schema_reaction", "discord", schema, func() Reaction { return &stubReaction{} })

	got, ok := ReactionSchema("registry_test_schema_reaction")
	if !ok {
		t.Fatal("expected schema to be found")
	}
	if len(got.Fields) != 1 || got.Fields[0].Name != "channel_id" {
		t.Fatalf("expected schema fields to round-trip, got %+v", got.Fields)
	}

	if _, ok := ReactionSchema("registry_test_schema_reaction_missing"); ok {
		t.Fatal("expected missing schema lookup to report false")
	}
}

func TestNamesIncludeRegistered(t *testing.T) {
	RegisterTrigger("registry_test_names_trigger", "", validate.Schema{}, func(string) Trigger { return &stubTrigger{} })
	RegisterAction("registry_test_names_action", "", validate.Schema{}, func() Action { return &stubAction{} })
	RegisterReaction("registry_test_names_reaction", "", validate.Schema{}, func() Reaction { return &stubReaction{} })

	if !contains(TriggerNames(), "registry_test_names_trigger") {
		t.Fatal("expected TriggerNames to include registered trigger")
	}
	if !contains(ActionNames(), "registry_test_names_action") {
		t.Fatal("expected ActionNames to include registered action")
	}
	if !contains(ReactionNames(), "registry_test_names_reaction") {
		t.Fatal("expected ReactionNames to include registered reaction")
	}
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
