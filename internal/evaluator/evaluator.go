// Package evaluator implements the Trigger Evaluator: one per active Area,
// it calls the Area's Trigger on a loop, projects the Response onto the
// Action's declared params, resolves the Action and Reaction credentials,
// and pushes a Job onto the Job Queue for every firing. The Area's Filter
// travels along in the Action's config rather than being applied here, so
// it gates the Action, not the Trigger. Polling triggers and event-driven
// triggers (Discord, Telegram) sit behind the same registry.Trigger
// contract, so this loop never needs to know which style it's driving — a
// polling trigger returns quickly and the loop sleeps out the interval; an
// event-driven trigger's Evaluate call simply blocks until its gateway
// delivers something.
package evaluator

import (
	"context"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

// errorBackoff is the fixed pause after a Trigger.Evaluate error, matching
// the original trigger_runner's unconditional sleep(60) on failure.
const errorBackoff = 60 * time.Second

// defaultInterval is what a Trigger fires at when its trigger_config
// carries no usable "interval" value, per spec 4.2's implicit schema
// field: "interval: optional integer >= 1 seconds (default 1)".
const defaultInterval = 1 * time.Second

// Evaluator drives one Area's Trigger until its context is canceled.
type Evaluator struct {
	area     domain.Area
	trigger  registry.Trigger
	queue    *queue.Queue
	resolver *credential.Resolver
}

// New builds an Evaluator for area, constructing its Trigger instance from
// the registry. Returns an error if the Area's trigger_type isn't
// registered.
func New(area domain.Area, q *queue.Queue, resolver *credential.Resolver) (*Evaluator, error) {
	trig, err := registry.NewTrigger(area.TriggerType, area.ID)
	if err != nil {
		return nil, err
	}
	return &Evaluator{area: area, trigger: trig, queue: q, resolver: resolver}, nil
}

// Run loops until ctx is canceled: evaluate, push, sleep.
func (e *Evaluator) Run(ctx context.Context) {
	interval := intervalOf(e.area.TriggerConfig)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := e.trigger.Evaluate(ctx, e.triggerConfigWithToken(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logi.Ctx(ctx).Error("trigger evaluate failed", "area_id", e.area.ID, "trigger_type", e.area.TriggerType, "error", err)
			if !sleepOrDone(ctx, errorBackoff) {
				return
			}
			continue
		}

		if result != nil {
			if err := e.handleFiring(ctx, result.Data); err != nil {
				logi.Ctx(ctx).Error("failed to push job", "area_id", e.area.ID, "error", err)
			}
		}

		if !sleepOrDone(ctx, interval) {
			return
		}
	}
}

// handleFiring builds and pushes the Job for one Trigger firing. Both the
// Action and Reaction credentials are resolved here, at enqueue time —
// spec 4.5 step 2 and the Job envelope contract (spec 3/6) require
// action.config.token/reaction.config.token to already be populated by the
// time a Job reaches the queue; the Worker only ever forwards them.
//
// The Area's Filter, if any, travels in the Action's Config under "filter"
// rather than being applied here: the Filter gates an Action, not a
// Trigger, so two Areas sharing the same Trigger but pointed at different
// Actions can filter independently.
func (e *Evaluator) handleFiring(ctx context.Context, data map[string]any) error {
	actionToken := e.resolveToken(ctx, registry.ActionService(e.area.ActionType))
	reactionToken := e.resolveToken(ctx, registry.ReactionService(e.area.ReactionType))

	actionConfig := mergeOverride(e.area.ActionConfig, map[string]any{"token": actionToken})
	if e.area.Filter != nil {
		actionConfig["filter"] = e.area.Filter
	}

	job := domain.Job{
		AreaID: e.area.ID,
		UserID: e.area.UserID,
		Trigger: domain.ComponentRef{
			Name:   e.area.TriggerType,
			Config: e.area.TriggerConfig,
		},
		Action: domain.ComponentRef{
			Name:   e.area.ActionType,
			Params: projectParams(e.area.ActionType, data),
			Config: actionConfig,
		},
		Reaction: domain.ComponentRef{
			Name:   e.area.ReactionType,
			Params: mergeOverride(data, e.area.ReactionConfig),
			Config: mergeOverride(e.area.ReactionConfig, map[string]any{"token": reactionToken}),
		},
		EventData: data,
	}

	return e.queue.Push(ctx, job)
}

// projectParams copies from data only the keys the named Action's declared
// Schema lists, dropping everything else. This is how an Action ends up
// with typed, named fields instead of the Trigger Response's full shape —
// spec 4.5 step 3 forbids an Action reflecting on config field names to
// decide what it needs, so the Evaluator does the projection once, here,
// against the Schema the Action registered itself with. An Action with no
// registered Schema (or an empty one) gets an empty Params map rather than
// the raw Response.
func projectParams(actionType string, data map[string]any) map[string]any {
	schema, ok := registry.ActionSchema(actionType)
	if !ok {
		return map[string]any{}
	}

	out := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		if v, present := data[f.Name]; present {
			out[f.Name] = v
		}
	}
	return out
}

// resolveToken resolves the current credential for service, returning "" if
// service is empty (the component needs no credential at all, e.g.
// print_reaction, time_trigger) or if no UserService row is on file yet
// (MissingCredential: the core forwards token=null and lets the component
// decide whether that's fatal).
func (e *Evaluator) resolveToken(ctx context.Context, service string) string {
	if service == "" {
		return ""
	}
	cred, err := e.resolver.Resolve(ctx, e.area.UserID, service)
	if err != nil {
		return ""
	}
	return cred.Token
}

// triggerConfigWithToken merges a freshly resolved credential's token into
// the trigger's stored config, when the Area's trigger service needs one.
// Unlike the Action/Reaction tokens above (resolved once per firing, at
// enqueue time), the Trigger's own credential is resolved fresh on every
// Evaluate call, since an event-driven trigger may hold its connection open
// for a long time and section 5 requires credential reads never be cached
// within the core.
func (e *Evaluator) triggerConfigWithToken(ctx context.Context) map[string]any {
	token := e.resolveToken(ctx, registry.TriggerService(e.area.TriggerType))
	return mergeOverride(e.area.TriggerConfig, map[string]any{"token": token})
}

// mergeOverride returns a new map holding base's entries with override's
// entries applied on top, last writer wins on key conflicts — the ⊕
// operator spec.md section 4.5 describes for building Job params/config.
func mergeOverride(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// intervalOf reads the "interval" field out of a raw (not yet validated)
// trigger_config map, coercing whatever JSON-decoded shape it arrived in
// (float64, string, ...). Falls back to defaultInterval if absent or not
// coercible to a duration.
func intervalOf(cfg map[string]any) time.Duration {
	v, ok := cfg["interval"]
	if !ok {
		return defaultInterval
	}
	d, err := validate.CoerceDuration(v)
	if err != nil {
		return defaultInterval
	}
	return d
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
