// Package supervisor implements the Supervisor/Reconciler: every
// reconcileInterval it diffs the stored Area table against the set of
// Evaluators currently running and starts or stops Evaluators to match.
// There is no global mutable trigger table here — the running set lives in
// one map owned by the Supervisor goroutine, replacing the anti-pattern the
// original process used of a single shared ACTIVE_TRIGGERS dict touched
// from multiple threads.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/area-core/internal/cluster"
	"github.com/rakunlabs/area-core/internal/credential"
	"github.com/rakunlabs/area-core/internal/domain"
	"github.com/rakunlabs/area-core/internal/evaluator"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/registry"
	"github.com/rakunlabs/area-core/internal/validate"
)

const reconcileInterval = 10 * time.Second

type running struct {
	cancel context.CancelFunc
	area   domain.Area
}

// Supervisor owns the set of running Evaluators and keeps it in sync with
// the Area store.
type Supervisor struct {
	store    domain.AreaStorer
	queue    *queue.Queue
	resolver *credential.Resolver
	cluster  *cluster.Cluster

	mu      sync.Mutex
	current map[string]*running
	wg      sync.WaitGroup
}

// New builds a Supervisor. cluster may be nil, in which case the
// reconcile loop runs unconditionally in this process — the
// single-instance deployment shape.
func New(store domain.AreaStorer, q *queue.Queue, resolver *credential.Resolver, c *cluster.Cluster) *Supervisor {
	return &Supervisor{
		store:    store,
		queue:    q,
		resolver: resolver,
		cluster:  c,
		current:  make(map[string]*running),
	}
}

// Run blocks until ctx is canceled, reconciling every reconcileInterval.
// When a Cluster is configured, only the peer holding the scheduler lock
// actually reconciles — every other peer waits, mirroring the teacher's
// cron scheduler leader-election shape.
func (s *Supervisor) Run(ctx context.Context) {
	if s.cluster == nil {
		s.reconcileLoop(ctx)
		return
	}
	s.lockedReconcileLoop(ctx)
}

func (s *Supervisor) lockedReconcileLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.cluster.LockScheduler(ctx); err != nil {
			logi.Ctx(ctx).Warn("supervisor: failed to acquire scheduler lock, retrying", "error", err)
			if !sleepOrDone(ctx, 5*time.Second) {
				return
			}
			continue
		}

		lockedCtx, cancel := context.WithCancel(ctx)
		s.reconcileLoop(lockedCtx)
		cancel()
		s.stopAll()
		_ = s.cluster.UnlockScheduler()

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return
		case <-time.After(reconcileInterval):
			s.reconcile(ctx)
		}
	}
}

func (s *Supervisor) reconcile(ctx context.Context) {
	areas, err := s.store.ListAreas(ctx)
	if err != nil {
		logi.Ctx(ctx).Error("supervisor: list areas failed", "error", err)
		return
	}

	wanted := make(map[string]domain.Area, len(areas))
	for _, a := range areas {
		if a.Enabled && a.HasTrigger() {
			wanted[a.ID] = a
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.current {
		if _, ok := wanted[id]; !ok {
			r.cancel()
			delete(s.current, id)
			logi.Ctx(ctx).Info("supervisor: stopped evaluator", "area_id", id)
		}
	}

	for id, area := range wanted {
		if r, ok := s.current[id]; ok {
			if areasEqual(r.area, area) {
				continue
			}
			r.cancel()
			delete(s.current, id)
			logi.Ctx(ctx).Info("supervisor: restarting evaluator for changed area", "area_id", id)
		}
		s.start(ctx, area)
	}
}

// validateTriggerConfig looks up the Area's trigger kind in the Component
// Registry and runs its declared Schema against trigger_config with the
// credential of the trigger kind's own service (registry.TriggerService)
// injected under "token"; the Action's credential is not used here — spec
// 4.6 step 4. An Area
// that fails this check (unknown kind, or InvalidConfig such as a
// non-numeric "interval") never gets a running Evaluator; it is simply
// retried on the next reconcile cycle once its stored config is fixed.
func (s *Supervisor) validateTriggerConfig(ctx context.Context, area domain.Area) error {
	schema, ok := registry.TriggerSchema(area.TriggerType)
	if !ok {
		return fmt.Errorf("supervisor: unknown trigger kind %q", area.TriggerType)
	}

	cfg := make(map[string]any, len(area.TriggerConfig)+1)
	for k, v := range area.TriggerConfig {
		cfg[k] = v
	}
	if service := registry.TriggerService(area.TriggerType); service != "" {
		if cred, err := s.resolver.Resolve(ctx, area.UserID, service); err == nil {
			cfg["token"] = cred.Token
		}
	}

	if _, err := validate.Validate(schema, cfg); err != nil {
		return fmt.Errorf("supervisor: invalid trigger config: %w", err)
	}
	return nil
}

func (s *Supervisor) start(parent context.Context, area domain.Area) {
	if err := s.validateTriggerConfig(parent, area); err != nil {
		logi.Ctx(parent).Error("supervisor: invalid config, area not scheduled this cycle", "area_id", area.ID, "trigger_type", area.TriggerType, "error", err)
		return
	}

	ev, err := evaluator.New(area, s.queue, s.resolver)
	if err != nil {
		logi.Ctx(parent).Error("supervisor: cannot start evaluator", "area_id", area.ID, "error", err)
		return
	}

	evalCtx, cancel := context.WithCancel(parent)
	s.current[area.ID] = &running{cancel: cancel, area: area}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ev.Run(evalCtx)
	}()

	logi.Ctx(parent).Info("supervisor: started evaluator", "area_id", area.ID, "trigger_type", area.TriggerType)
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.current {
		r.cancel()
		delete(s.current, id)
	}
}

func areasEqual(a, b domain.Area) bool {
	return a.Enabled == b.Enabled &&
		a.TriggerType == b.TriggerType &&
		a.ActionType == b.ActionType &&
		a.ReactionType == b.ReactionType &&
		a.UpdatedAt == b.UpdatedAt
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
