// Package registry is the Component Registry: it holds every Trigger,
// Action and Reaction implementation available to the runtime, keyed by
// name. It is populated once at startup via blank imports of the
// internal/components/* packages and is immutable afterward — the same
// self-registration-via-init() shape the teacher uses for its workflow
// node types, generalized to three registries instead of one.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rakunlabs/area-core/internal/validate"
)

// Trigger is implemented by every trigger kind. Evaluate is called once per
// Evaluator tick (polling triggers) or once per received external event
// (event-driven triggers) — both styles return the same TriggerResult
// shape, so the Evaluator never needs to know which one it's driving.
type Trigger interface {
	// Evaluate checks (or waits for, if event-driven) one occurrence of the
	// trigger condition. config carries the Area's stored trigger_config
	// plus the injected "token" field. A nil result
	// with a nil error means nothing fired this call.
	Evaluate(ctx context.Context, config map[string]any) (*TriggerResult, error)
}

// TriggerResult is what a Trigger.Evaluate call returns when it fires.
type TriggerResult struct {
	Data map[string]any
}

// Action is implemented by every action kind. Run executes the action and
// returns data merged into the paired Reaction's params.
type Action interface {
	Run(ctx context.Context, params, config map[string]any) (map[string]any, error)
}

// Reaction is implemented by every reaction kind. Run performs the side
// effect; the Worker discards its return value (reactions never chain into
// further reactions).
type Reaction interface {
	Run(ctx context.Context, params, config map[string]any) (map[string]any, error)
}

// TriggerFactory builds a Trigger instance for one Area. areaID is only
// used to name the Area in error messages; gateway connections (Discord,
// Telegram) are shared by bot token, not by areaID.
type TriggerFactory func(areaID string) Trigger

// ActionFactory builds an Action instance.
type ActionFactory func() Action

// ReactionFactory builds a Reaction instance.
type ReactionFactory func() Reaction

var (
	mu               sync.RWMutex
	triggers         = make(map[string]TriggerFactory)
	actions          = make(map[string]ActionFactory)
	reactions        = make(map[string]ReactionFactory)
	triggerSchemas   = make(map[string]validate.Schema)
	actionSchemas    = make(map[string]validate.Schema)
	reactionSchemas  = make(map[string]validate.Schema)
	triggerServices  = make(map[string]string)
	actionServices   = make(map[string]string)
	reactionServices = make(map[string]string)
)

// RegisterTrigger registers a trigger factory and its declared config
// Schema under name, tagged with the external service it authenticates
// against (e.g. "google", "discord"; "" if the trigger needs no
// credential at all, such as time_trigger). Called from init() functions
// in internal/components/*. Panics on duplicate registration — that can
// only happen from a programming mistake at startup, never from user
// input.
//
// The Schema is what lets the Supervisor validate an Area's trigger_config
// before spawning an Evaluator (spec 4.6 step 4): an Area whose config
// fails validation never gets a running Evaluator in the first place,
// rather than failing lazily on its first Evaluate call. The service tag
// is what lets the Credential Resolver key a stored UserService row by the
// external service a user actually connected, rather than by whichever
// trigger/action/reaction kind happens to be reading it — so a single
// Google connection backs both the gmail_receive Trigger and the
// send_email Reaction.
func RegisterTrigger(name, service string, schema validate.Schema, f TriggerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := triggers[name]; exists {
		panic(fmt.Sprintf("registry: trigger %q already registered", name))
	}
	triggers[name] = f
	triggerSchemas[name] = schema
	triggerServices[name] = service
}

// TriggerSchema returns the declared config Schema for a registered trigger
// kind, or false if name isn't registered.
func TriggerSchema(name string) (validate.Schema, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := triggerSchemas[name]
	return s, ok
}

// TriggerService returns the external service name a registered trigger
// kind authenticates against, or "" if it needs no credential or isn't
// registered.
func TriggerService(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return triggerServices[name]
}

// RegisterAction registers an action factory and its declared config Schema
// under name, tagged with the external service it authenticates against ("" if
// none). The Schema is what lets the Evaluator project a Trigger's Response
// onto only the fields this Action declares (spec 4.6 step 3) and what lets
// the Worker validate job.Action.Params before running it (spec 4.6 step 4).
func RegisterAction(name, service string, schema validate.Schema, f ActionFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := actions[name]; exists {
		panic(fmt.Sprintf("registry: action %q already registered", name))
	}
	actions[name] = f
	actionSchemas[name] = schema
	actionServices[name] = service
}

// ActionSchema returns the declared config Schema for a registered action
// kind, or false if name isn't registered.
func ActionSchema(name string) (validate.Schema, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := actionSchemas[name]
	return s, ok
}

// ActionService returns the external service name a registered action kind
// authenticates against, or "" if it needs no credential or isn't
// registered.
func ActionService(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return actionServices[name]
}

// RegisterReaction registers a reaction factory and its declared config
// Schema under name, tagged with the external service it authenticates
// against ("" if none).
func RegisterReaction(name, service string, schema validate.Schema, f ReactionFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := reactions[name]; exists {
		panic(fmt.Sprintf("registry: reaction %q already registered", name))
	}
	reactions[name] = f
	reactionSchemas[name] = schema
	reactionServices[name] = service
}

// ReactionSchema returns the declared config Schema for a registered
// reaction kind, or false if name isn't registered.
func ReactionSchema(name string) (validate.Schema, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := reactionSchemas[name]
	return s, ok
}

// ReactionService returns the external service name a registered reaction
// kind authenticates against, or "" if it needs no credential or isn't
// registered.
func ReactionService(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return reactionServices[name]
}

// NewTrigger looks up and constructs a trigger by name.
func NewTrigger(name, areaID string) (Trigger, error) {
	mu.RLock()
	f, ok := triggers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown trigger %q", name)
	}
	return f(areaID), nil
}

// NewAction looks up and constructs an action by name.
func NewAction(name string) (Action, error) {
	mu.RLock()
	f, ok := actions[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown action %q", name)
	}
	return f(), nil
}

// NewReaction looks up and constructs a reaction by name.
func NewReaction(name string) (Reaction, error) {
	mu.RLock()
	f, ok := reactions[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown reaction %q", name)
	}
	return f(), nil
}

// TriggerNames returns every registered trigger name.
func TriggerNames() []string { return keysOfTrigger() }

func keysOfTrigger() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(triggers))
	for k := range triggers {
		out = append(out, k)
	}
	return out
}

// ActionNames returns every registered action name.
func ActionNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(actions))
	for k := range actions {
		out = append(out, k)
	}
	return out
}

// ReactionNames returns every registered reaction name.
func ReactionNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reactions))
	for k := range reactions {
		out = append(out, k)
	}
	return out
}
