// Package registry implements the task registry: creation, claim/unclaim,
// idempotent completion, and SLA escalation side-tasks. It owns all task
// state transitions; the engine owns instance transitions and is reached
// through the Sink interface.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/approvo/internal/audit"
	"github.com/petrijr/approvo/internal/persistence"
	"github.com/petrijr/approvo/internal/timer"
	"github.com/petrijr/approvo/pkg/api"
)

// Sink receives stage decisions and resolves stage specs. Implemented by the
// engine; injected after construction to break the wiring cycle.
type Sink interface {
	Advance(ctx context.Context, instanceID, variable, value string, variables map[string]any) (string, error)
	ResolveStage(ctx context.Context, instanceID, stage string) (api.StageSpec, error)
}

// Queue receives worker tasks for dispatch. Implemented by the dispatcher.
type Queue interface {
	Enqueue(taskID, topic string)
	Forget(taskID string)
}

// Registry is the task registry. It satisfies api.TaskService for human
// callers and timer.Escalator for the SLA scheduler.
type Registry struct {
	store  persistence.Store
	sched  *timer.Scheduler
	log    *audit.Log
	logger *slog.Logger
	obs    api.Observer

	sink  Sink
	queue Queue
}

var _ api.TaskService = (*Registry)(nil)

var _ timer.Escalator = (*Registry)(nil)

// New creates a Registry. Sink and Queue are attached afterwards via
// BindSink and BindQueue. If logger is nil, slog.Default() is used; if obs
// is nil, the noop observer is used.
func New(store persistence.Store, sched *timer.Scheduler, log *audit.Log, logger *slog.Logger, obs api.Observer) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Registry{
		store:  store,
		sched:  sched,
		log:    log,
		logger: logger,
		obs:    obs,
	}
}

// BindSink attaches the decision sink (the engine).
func (r *Registry) BindSink(s Sink) { r.sink = s }

// BindQueue attaches the worker dispatch queue.
func (r *Registry) BindQueue(q Queue) { r.queue = q }

// CreateTask creates the task for a stage the instance just entered: persists
// it, registers its SLA timer, and enqueues it for workers when the stage is
// worker-bound.
func (r *Registry) CreateTask(ctx context.Context, inst *api.ProcessInstance, spec api.StageSpec) (*api.Task, error) {
	now := time.Now()
	// Workers read their inputs from the task, so it carries a snapshot of
	// the instance variables at stage entry.
	vars := make(map[string]any, len(inst.Variables))
	for k, v := range inst.Variables {
		vars[k] = v
	}
	t := &api.Task{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		Stage:      spec.Name,
		Name:       spec.TaskName,
		Kind:       spec.Kind,
		RoleGroups: spec.RoleGroups,
		Topic:      spec.Topic,
		State:      api.TaskCreated,
		Variables:  vars,
		CreatedAt:  now,
	}
	if spec.SLA > 0 {
		t.DueAt = now.Add(spec.SLA)
	}

	if err := r.store.Tasks.SaveTask(t); err != nil {
		return nil, fmt.Errorf("save task for stage %q: %w", spec.Name, err)
	}

	r.log.Record(api.AuditEvent{
		InstanceID: t.InstanceID,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Type:       api.EventTaskCreated,
		NewValue:   string(t.State),
		Actor:      api.SystemActor,
	})

	if spec.SLA > 0 {
		r.sched.Schedule(timer.Registration{
			TaskID:         t.ID,
			InstanceID:     t.InstanceID,
			Stage:          t.Stage,
			FireAt:         t.DueAt,
			EscalationRole: spec.EscalationRole,
		})
	}
	if t.Kind == api.TaskKindWorker {
		r.queue.Enqueue(t.ID, t.Topic)
	}

	r.logger.InfoContext(ctx, "task_created",
		slog.String("task_id", t.ID),
		slog.String("instance_id", t.InstanceID),
		slog.String("stage", t.Stage),
		slog.String("kind", string(t.Kind)),
	)
	r.obs.OnTaskCreated(ctx, t)

	return t, nil
}

func (r *Registry) Get(ctx context.Context, taskID string) (*api.Task, error) {
	return r.store.Tasks.GetTask(taskID)
}

// Claim assigns the task to actor. It succeeds when the task is unassigned
// or already held by actor; a concurrent claim resolves by compare-and-set
// and the loser receives api.ErrAlreadyClaimed. The first claim on an
// instance moves it from PENDING to IN_REVIEW.
func (r *Registry) Claim(ctx context.Context, taskID, actor string) (*api.Task, error) {
	for {
		t, err := r.store.Tasks.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		if !t.State.IsOpen() {
			return nil, fmt.Errorf("%w: task %s is %s", api.ErrAlreadyClaimed, taskID, t.State)
		}
		if t.Assignee == actor {
			return t, nil
		}
		if t.Assignee != "" {
			return nil, fmt.Errorf("%w: task %s held by %s", api.ErrAlreadyClaimed, taskID, t.Assignee)
		}

		t.Assignee = actor
		t.State = api.TaskAssigned
		if err := r.store.Tasks.UpdateTask(t, t.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return nil, err
		}

		if err := r.markInstanceInReview(ctx, t.InstanceID); err != nil {
			return nil, err
		}

		r.log.Record(api.AuditEvent{
			InstanceID: t.InstanceID,
			TaskID:     t.ID,
			TaskName:   t.Name,
			Type:       api.EventTaskClaimed,
			NewValue:   actor,
			Actor:      actor,
		})
		return t, nil
	}
}

// markInstanceInReview promotes a PENDING instance to IN_REVIEW. Instances in
// any other status are left alone.
func (r *Registry) markInstanceInReview(ctx context.Context, instanceID string) error {
	for {
		inst, err := r.store.Instances.GetInstance(instanceID)
		if err != nil {
			return err
		}
		if inst.Status != api.StatusPending {
			return nil
		}

		inst.Status = api.StatusInReview
		if err := r.store.Instances.UpdateInstance(inst, inst.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}
		return nil
	}
}

// Unclaim releases the task back to its candidate groups. Only the current
// assignee may release it.
func (r *Registry) Unclaim(ctx context.Context, taskID, actor string) error {
	for {
		t, err := r.store.Tasks.GetTask(taskID)
		if err != nil {
			return err
		}
		if !t.State.IsOpen() {
			return fmt.Errorf("%w: task %s is %s", api.ErrAlreadyClaimed, taskID, t.State)
		}
		if t.Assignee != actor {
			return fmt.Errorf("%w: task %s held by %q", api.ErrAlreadyClaimed, taskID, t.Assignee)
		}

		t.Assignee = ""
		t.State = api.TaskCreated
		if err := r.store.Tasks.UpdateTask(t, t.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}

		r.log.Record(api.AuditEvent{
			InstanceID: t.InstanceID,
			TaskID:     t.ID,
			TaskName:   t.Name,
			Type:       api.EventTaskUnclaimed,
			OldValue:   actor,
			Actor:      actor,
		})
		return nil
	}
}

// Complete records the stage decision on the task and advances the workflow.
// An unassigned task is implicitly claimed by actor; a task held by someone
// else cannot be completed. A decision the stage has no transition for fails
// with api.ErrUnknownTransition and leaves the task open. Completing an
// already-closed task is a no-op success regardless of the decision supplied.
func (r *Registry) Complete(ctx context.Context, taskID, actor, decision string, variables map[string]any) error {
	var t *api.Task
	var spec api.StageSpec
	for {
		var err error
		t, err = r.store.Tasks.GetTask(taskID)
		if err != nil {
			return err
		}
		if !t.State.IsOpen() {
			return nil
		}
		if t.Assignee != "" && t.Assignee != actor {
			return fmt.Errorf("%w: task %s held by %s", api.ErrAlreadyClaimed, taskID, t.Assignee)
		}

		// The decision must be checked against the stage's transition table
		// before the closing write; rejecting it afterwards would leave the
		// stage without an open task.
		spec, err = r.sink.ResolveStage(ctx, t.InstanceID, t.Stage)
		if err != nil {
			return err
		}
		if _, ok := spec.Transitions[decision]; !ok {
			return fmt.Errorf("%w: stage %q has no transition for %s=%q", api.ErrUnknownTransition, t.Stage, spec.DecisionVar, decision)
		}

		t.Assignee = actor
		t.State = api.TaskCompleted
		t.Decision = decision
		mergeVariables(t, variables)

		if err := r.store.Tasks.UpdateTask(t, t.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}
		break
	}

	r.sched.Cancel(t.ID)

	r.log.Record(api.AuditEvent{
		InstanceID: t.InstanceID,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Type:       api.EventTaskCompleted,
		NewValue:   string(api.TaskCompleted),
		Actor:      actor,
	})
	r.log.Record(api.AuditEvent{
		InstanceID: t.InstanceID,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Type:       api.EventDecisionMade,
		NewValue:   decision,
		Actor:      actor,
	})

	if err := r.closeSiblings(ctx, t); err != nil {
		return err
	}

	if _, err := r.sink.Advance(ctx, t.InstanceID, spec.DecisionVar, decision, variables); err != nil {
		return err
	}

	r.obs.OnTaskCompleted(ctx, t, decision, time.Since(t.CreatedAt))
	return nil
}

// closeSiblings marks the other open tasks of the stage as completed once a
// decision resolved it. When an escalation task wins this sweeps up the
// original, and vice versa; the sibling carries no decision of its own.
func (r *Registry) closeSiblings(ctx context.Context, winner *api.Task) error {
	siblings, err := r.store.Tasks.ListTasks(persistence.TaskFilter{
		InstanceID: winner.InstanceID,
		Stage:      winner.Stage,
		OpenOnly:   true,
	})
	if err != nil {
		return err
	}

	for _, sib := range siblings {
		if sib.ID == winner.ID {
			continue
		}
		if err := r.closeTask(ctx, sib.ID, api.TaskCompleted); err != nil {
			return err
		}
		r.logger.DebugContext(ctx, "sibling_task_closed",
			slog.String("task_id", sib.ID),
			slog.String("winner_id", winner.ID),
			slog.String("stage", winner.Stage),
		)
	}
	return nil
}

// Expire closes the task without a decision: the state becomes EXPIRED, its
// timer is cancelled, and workers can no longer lease it. Already-closed
// tasks are left alone.
func (r *Registry) Expire(ctx context.Context, taskID string) error {
	return r.closeTask(ctx, taskID, api.TaskExpired)
}

func (r *Registry) closeTask(ctx context.Context, taskID string, state api.TaskState) error {
	for {
		t, err := r.store.Tasks.GetTask(taskID)
		if err != nil {
			return err
		}
		if !t.State.IsOpen() {
			return nil
		}

		t.State = state
		if err := r.store.Tasks.UpdateTask(t, t.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}

		r.sched.Cancel(t.ID)
		if t.Kind == api.TaskKindWorker {
			r.queue.Forget(t.ID)
		}
		return nil
	}
}

// ExpireOpenTasks closes every open task of the instance. Used on
// termination.
func (r *Registry) ExpireOpenTasks(ctx context.Context, instanceID string) error {
	open, err := r.store.Tasks.ListTasks(persistence.TaskFilter{
		InstanceID: instanceID,
		OpenOnly:   true,
	})
	if err != nil {
		return err
	}
	for _, t := range open {
		if err := r.closeTask(ctx, t.ID, api.TaskExpired); err != nil {
			return err
		}
	}
	return nil
}

// Escalate handles an SLA timer firing: it records the breach, creates a
// human escalation side-task for the given role, and flags the instance.
// The original task is left open; whichever task completes first resolves
// the stage. Firing against an already-closed task does nothing.
func (r *Registry) Escalate(ctx context.Context, taskID, escalationRole string) error {
	t, err := r.store.Tasks.GetTask(taskID)
	if err != nil {
		return err
	}
	if !t.State.IsOpen() {
		return nil
	}

	r.log.Record(api.AuditEvent{
		InstanceID: t.InstanceID,
		TaskID:     t.ID,
		TaskName:   t.Name,
		Type:       api.EventSLABreach,
		OldValue:   t.DueAt.Format(time.RFC3339),
		Actor:      api.SystemActor,
	})

	esc := &api.Task{
		ID:         uuid.NewString(),
		InstanceID: t.InstanceID,
		Stage:      t.Stage,
		Name:       t.Name + " (Escalation)",
		Kind:       api.TaskKindHuman,
		RoleGroups: []string{escalationRole},
		State:      api.TaskCreated,
		Escalation: true,
		Variables:  map[string]any{},
		CreatedAt:  time.Now(),
	}
	if err := r.store.Tasks.SaveTask(esc); err != nil {
		return fmt.Errorf("save escalation task: %w", err)
	}

	r.log.Record(api.AuditEvent{
		InstanceID: esc.InstanceID,
		TaskID:     esc.ID,
		TaskName:   esc.Name,
		Type:       api.EventTaskEscalated,
		NewValue:   escalationRole,
		Actor:      api.SystemActor,
		Role:       escalationRole,
	})

	if err := r.markInstanceEscalated(ctx, t.InstanceID); err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "sla_breached",
		slog.String("task_id", t.ID),
		slog.String("instance_id", t.InstanceID),
		slog.String("stage", t.Stage),
		slog.String("escalation_role", escalationRole),
	)
	r.obs.OnEscalation(ctx, esc, escalationRole)

	return nil
}

func (r *Registry) markInstanceEscalated(ctx context.Context, instanceID string) error {
	for {
		inst, err := r.store.Instances.GetInstance(instanceID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return nil
		}

		inst.Status = api.StatusEscalated
		if inst.Variables == nil {
			inst.Variables = map[string]any{}
		}
		inst.Variables["escalated"] = true

		if err := r.store.Instances.UpdateInstance(inst, inst.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}
		return nil
	}
}

// ResolveStage returns the stage spec governing one of the instance's
// stages. Exposed for the worker dispatcher, which needs the stage's
// decision variable.
func (r *Registry) ResolveStage(ctx context.Context, instanceID, stage string) (api.StageSpec, error) {
	return r.sink.ResolveStage(ctx, instanceID, stage)
}

// ListByRoleGroup returns open tasks whose candidate groups include role.
func (r *Registry) ListByRoleGroup(ctx context.Context, role string) ([]*api.Task, error) {
	return r.store.Tasks.ListTasks(persistence.TaskFilter{RoleGroup: role, OpenOnly: true})
}

// ListByAssignee returns open tasks currently held by actor.
func (r *Registry) ListByAssignee(ctx context.Context, actor string) ([]*api.Task, error) {
	return r.store.Tasks.ListTasks(persistence.TaskFilter{Assignee: actor, OpenOnly: true})
}

// ListByInstance returns the open tasks of a process instance.
func (r *Registry) ListByInstance(ctx context.Context, instanceID string) ([]*api.Task, error) {
	return r.store.Tasks.ListTasks(persistence.TaskFilter{InstanceID: instanceID, OpenOnly: true})
}

func mergeVariables(t *api.Task, variables map[string]any) {
	if len(variables) == 0 {
		return
	}
	if t.Variables == nil {
		t.Variables = make(map[string]any, len(variables))
	}
	for k, v := range variables {
		t.Variables[k] = v
	}
}
