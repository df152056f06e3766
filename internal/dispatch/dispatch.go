// Package dispatch implements the worker protocol: per-topic queues of
// worker-bound tasks, leases with crash-tolerant redelivery, linear retry
// backoff, and per-topic fallback policies when retries run out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/approvo/internal/audit"
	"github.com/petrijr/approvo/pkg/api"
)

// Tasks is the slice of the task registry the dispatcher needs. Implemented
// by *registry.Registry.
type Tasks interface {
	Get(ctx context.Context, taskID string) (*api.Task, error)
	Complete(ctx context.Context, taskID, actor, decision string, variables map[string]any) error
	Expire(ctx context.Context, taskID string) error
	ResolveStage(ctx context.Context, instanceID, stage string) (api.StageSpec, error)
}

// entry is a queued worker task awaiting a lease.
type entry struct {
	taskID           string
	topic            string
	notBefore        time.Time
	retriesRemaining int
}

// lease is an active checkout of a task by one worker.
type lease struct {
	workerID         string
	topic            string
	expiresAt        time.Time
	retriesRemaining int
}

// Dispatcher implements api.WorkerService. Queues and leases live in memory;
// expired leases are detected lazily on the next Lease, Complete, or Fail
// touching the task, so no background sweeper is needed.
type Dispatcher struct {
	tasks  Tasks
	log    *audit.Log
	logger *slog.Logger

	topics map[string]api.TopicConfig

	mu     sync.Mutex
	queues map[string][]*entry
	leases map[string]*lease
}

var _ api.WorkerService = (*Dispatcher)(nil)

// defaultTopicConfig applies to topics enqueued without explicit
// configuration. Raising an incident is the conservative default: the
// workflow never silently proceeds past an unconfigured failing topic.
var defaultTopicConfig = api.TopicConfig{
	MaxRetries: 3,
	BaseDelay:  5 * time.Second,
	Fallback:   api.RaiseIncident(),
}

// New creates a Dispatcher with the given per-topic configuration.
// If logger is nil, slog.Default() is used.
func New(topics []api.TopicConfig, tasks Tasks, log *audit.Log, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]api.TopicConfig, len(topics))
	for _, tc := range topics {
		byName[tc.Name] = tc
	}
	return &Dispatcher{
		tasks:  tasks,
		log:    log,
		logger: logger,
		topics: byName,
		queues: make(map[string][]*entry),
		leases: make(map[string]*lease),
	}
}

func (d *Dispatcher) topicConfig(topic string) api.TopicConfig {
	if tc, ok := d.topics[topic]; ok {
		return tc
	}
	return defaultTopicConfig
}

// Enqueue adds a worker task to its topic queue with a fresh retry budget.
// Called by the registry when a worker stage is entered.
func (d *Dispatcher) Enqueue(taskID, topic string) {
	cfg := d.topicConfig(topic)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[topic] = append(d.queues[topic], &entry{
		taskID:           taskID,
		topic:            topic,
		retriesRemaining: cfg.MaxRetries,
	})
}

// Forget drops the task from its queue and releases any lease. Called when
// the task is closed outside the worker protocol (sibling sweep, termination).
func (d *Dispatcher) Forget(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.leases, taskID)
	for topic, q := range d.queues {
		for i, e := range q {
			if e.taskID == taskID {
				d.queues[topic] = append(q[:i], q[i+1:]...)
				break
			}
		}
	}
}

// Lease checks out up to maxBatch eligible tasks for topic on behalf of
// workerID. Tasks whose prior lease expired are eligible again; tasks closed
// since they were enqueued are dropped silently.
func (d *Dispatcher) Lease(ctx context.Context, topic, workerID string, leaseDuration time.Duration, maxBatch int) ([]*api.Task, error) {
	now := time.Now()

	d.mu.Lock()
	d.reclaimExpired(now)

	var candidates []*entry
	var remaining []*entry
	for _, e := range d.queues[topic] {
		if len(candidates) < maxBatch && !e.notBefore.After(now) {
			candidates = append(candidates, e)
			continue
		}
		remaining = append(remaining, e)
	}
	d.queues[topic] = remaining
	d.mu.Unlock()

	var leased []*api.Task
	for _, e := range candidates {
		t, err := d.tasks.Get(ctx, e.taskID)
		if err != nil {
			if errors.Is(err, api.ErrTaskNotFound) {
				continue
			}
			// A transient registry failure must not lose the task; put the
			// entry back for a later lease round.
			d.mu.Lock()
			d.queues[topic] = append(d.queues[topic], e)
			d.mu.Unlock()
			d.logger.WarnContext(ctx, "lease_lookup_failed",
				slog.String("task_id", e.taskID),
				slog.String("topic", topic),
				slog.Any("error", err),
			)
			continue
		}
		if !t.State.IsOpen() {
			// Closed since enqueue; drop it.
			continue
		}
		d.mu.Lock()
		d.leases[e.taskID] = &lease{
			workerID:         workerID,
			topic:            topic,
			expiresAt:        now.Add(leaseDuration),
			retriesRemaining: e.retriesRemaining,
		}
		d.mu.Unlock()
		leased = append(leased, t)
	}

	if len(leased) > 0 {
		d.logger.DebugContext(ctx, "tasks_leased",
			slog.String("topic", topic),
			slog.String("worker_id", workerID),
			slog.Int("count", len(leased)),
		)
	}
	return leased, nil
}

// reclaimExpired re-enqueues tasks whose lease ran out. Callers hold d.mu.
func (d *Dispatcher) reclaimExpired(now time.Time) {
	for taskID, l := range d.leases {
		if l.expiresAt.After(now) {
			continue
		}
		delete(d.leases, taskID)
		d.queues[l.topic] = append(d.queues[l.topic], &entry{
			taskID:           taskID,
			topic:            l.topic,
			notBefore:        now,
			retriesRemaining: l.retriesRemaining,
		})
	}
}

// checkoutLease validates and removes the caller's lease on the task.
func (d *Dispatcher) checkoutLease(taskID, workerID string, now time.Time) (*lease, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.leases[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: no active lease on task %s", api.ErrLeaseExpired, taskID)
	}
	if l.workerID != workerID {
		return nil, fmt.Errorf("%w: task %s leased by %s", api.ErrLeaseNotOwned, taskID, l.workerID)
	}
	if !l.expiresAt.After(now) {
		delete(d.leases, taskID)
		d.queues[l.topic] = append(d.queues[l.topic], &entry{
			taskID:           taskID,
			topic:            l.topic,
			notBefore:        now,
			retriesRemaining: l.retriesRemaining,
		})
		return nil, fmt.Errorf("%w: lease on task %s expired", api.ErrLeaseExpired, taskID)
	}

	delete(d.leases, taskID)
	return l, nil
}

// Complete finishes a leased task with the worker's output. The stage
// decision is read from the stage's configured decision variable in output.
func (d *Dispatcher) Complete(ctx context.Context, taskID, workerID string, output map[string]any) error {
	if _, err := d.checkoutLease(taskID, workerID, time.Now()); err != nil {
		return err
	}

	t, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	spec, err := d.tasks.ResolveStage(ctx, t.InstanceID, t.Stage)
	if err != nil {
		return err
	}
	decision, ok := decisionFrom(spec, output)
	if !ok {
		return fmt.Errorf("task %s: output is missing decision variable %q", taskID, spec.DecisionVar)
	}

	return d.tasks.Complete(ctx, taskID, workerID, decision, output)
}

// Fail reports a transient worker failure. With retries remaining the task
// is re-enqueued after a linearly growing delay; once retries run out the
// topic's fallback policy resolves the task, and the workflow never sees the
// failure as an error.
func (d *Dispatcher) Fail(ctx context.Context, taskID, workerID, reason string) (api.FailResult, error) {
	now := time.Now()
	l, err := d.checkoutLease(taskID, workerID, now)
	if err != nil {
		return api.FailResult{}, err
	}

	cfg := d.topicConfig(l.topic)
	remaining := l.retriesRemaining - 1

	if remaining > 0 {
		delay := cfg.BaseDelay * time.Duration(cfg.MaxRetries-remaining+1)

		d.mu.Lock()
		d.queues[l.topic] = append(d.queues[l.topic], &entry{
			taskID:           taskID,
			topic:            l.topic,
			notBefore:        now.Add(delay),
			retriesRemaining: remaining,
		})
		d.mu.Unlock()

		d.logger.WarnContext(ctx, "worker_task_failed",
			slog.String("task_id", taskID),
			slog.String("topic", l.topic),
			slog.String("reason", reason),
			slog.Int("retries_remaining", remaining),
			slog.Duration("retry_delay", delay),
		)
		return api.FailResult{Retry: true, Delay: delay, RetriesRemaining: remaining}, nil
	}

	if err := d.applyFallback(ctx, taskID, l.topic, cfg.Fallback, reason); err != nil {
		return api.FailResult{}, err
	}
	return api.FailResult{Fallback: cfg.Fallback.Kind}, nil
}

// applyFallback resolves a retries-exhausted task per the topic policy.
func (d *Dispatcher) applyFallback(ctx context.Context, taskID, topic string, policy api.FallbackPolicy, reason string) error {
	t, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	d.logger.ErrorContext(ctx, "worker_retries_exhausted",
		slog.String("task_id", taskID),
		slog.String("topic", topic),
		slog.String("fallback", string(policy.Kind)),
		slog.String("reason", reason),
	)

	switch policy.Kind {
	case api.FallbackCompleteWithDefault:
		spec, err := d.tasks.ResolveStage(ctx, t.InstanceID, t.Stage)
		if err != nil {
			return err
		}
		decision, ok := decisionFrom(spec, policy.Variables)
		if !ok {
			return fmt.Errorf("topic %s: fallback defaults are missing decision variable %q", topic, spec.DecisionVar)
		}
		return d.tasks.Complete(ctx, taskID, api.SystemActor, decision, policy.Variables)

	case api.FallbackCompleteWithFailureFlag:
		vars := map[string]any{"success": false}
		return d.tasks.Complete(ctx, taskID, api.SystemActor, api.DecisionFail, vars)

	case api.FallbackRaiseIncident:
		if err := d.tasks.Expire(ctx, taskID); err != nil {
			return err
		}
		d.log.Record(api.AuditEvent{
			InstanceID: t.InstanceID,
			TaskID:     t.ID,
			TaskName:   t.Name,
			Type:       api.EventIncidentRaised,
			NewValue:   topic,
			Comment:    reason,
			Actor:      api.SystemActor,
		})
		return nil

	default:
		return fmt.Errorf("topic %s: unknown fallback policy %q", topic, policy.Kind)
	}
}

func decisionFrom(spec api.StageSpec, vars map[string]any) (string, bool) {
	v, ok := vars[spec.DecisionVar]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}
