// Package worker implements the Worker: it pops Jobs from the Job Queue,
// invokes the Action with the bearer token the Evaluator already resolved
// and embedded at enqueue time, merges its response into the Reaction's
// params, and invokes the Reaction with its own embedded token. The Worker
// never calls the Credential Resolver itself — spec 4.7 only has it read
// job.action.config.token / job.reaction.config.token, since re-resolving
// per service at dequeue time is what silently merged two independent
// (user, service) credentials under one component-name key. A Job is
// never retried on failure — the original process_task/listen loop logged
// and moved on, and so does this one.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

// pollInterval is how long the Worker sleeps between Pop attempts when the
// queue is empty.
const pollInterval = time.Second

// Worker drains Jobs from a Queue until its context is canceled.
type Worker struct {
	id    string
	queue *queue.Queue
}

// New builds a Worker identified by id (used only for logging when several
// Workers run concurrently against the same Queue).
func New(id string, q *queue.Queue) *Worker {
	return &Worker{id: id, queue: q}
}

// Run loops: pop, process, repeat. Returns when ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Pop(ctx)
		if err == queue.ErrEmpty {
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}
		if err != nil {
			logi.Ctx(ctx).Error("worker: pop failed", "worker_id", w.id, "error", err)
			if !sleepOrDone(ctx, pollInterval) {
				return
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	if err := w.run(ctx, job); err != nil {
		logi.Ctx(ctx).Error("worker: job failed", "worker_id", w.id, "area_id", job.AreaID, "error", err)
		return
	}
	logi.Ctx(ctx).Info("worker: job completed", "worker_id", w.id, "area_id", job.AreaID)
}

// run looks up and constructs the Job's Action and Reaction, invoking each
// with the config the Evaluator already built — including the "token"
// field it resolved from the Credential Resolver at enqueue time. The
// Worker forwards both tokens verbatim; it never re-resolves a credential
// itself.
func (w *Worker) run(ctx context.Context, job *domain.Job) error {
	action, err := registry.NewAction(job.Action.Name)
	if err != nil {
		return fmt.Errorf("construct action: %w", err)
	}

	reaction, err := registry.NewReaction(job.Reaction.Name)
	if err != nil {
		return fmt.Errorf("construct reaction: %w", err)
	}

	actionSchema, _ := registry.ActionSchema(job.Action.Name)
	actionParams, err := validate.Validate(actionSchema, job.Action.Params)
	if err != nil {
		return fmt.Errorf("validate action %s params: %w", job.Action.Name, err)
	}

	actionOut, err := action.Run(ctx, actionParams, job.Action.Config)
	if err != nil {
		return fmt.Errorf("run action %s: %w", job.Action.Name, err)
	}
	if actionOut == nil {
		logi.Ctx(ctx).Debug("worker: action filter rejected event, skipping reaction", "worker_id", w.id, "area_id", job.AreaID)
		return nil
	}

	reactionParams := mergeParams(actionOut, job.Reaction.Params)

	reactionSchema, _ := registry.ReactionSchema(job.Reaction.Name)
	reactionParams, err = validate.Validate(reactionSchema, reactionParams)
	if err != nil {
		return fmt.Errorf("validate reaction %s params: %w", job.Reaction.Name, err)
	}

	if _, err := reaction.Run(ctx, reactionParams, job.Reaction.Config); err != nil {
		return fmt.Errorf("run reaction %s: %w", job.Reaction.Name, err)
	}

	return nil
}

func mergeParams(actionOut map[string]any, reactionParams map[string]any) map[string]any {
	merged := make(map[string]any, len(actionOut)+len(reactionParams))
	for k, v := range actionOut {
		merged[k] = v
	}
	for k, v := range reactionParams {
		merged[k] = v
	}
	return merged
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
