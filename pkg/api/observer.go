package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnWorkflowStarted is called once when a process instance is created,
	// after its first task has been seeded.
	OnWorkflowStarted(ctx context.Context, inst *ProcessInstance)

	// OnWorkflowEnded is called when an instance reaches a terminal status,
	// including termination.
	OnWorkflowEnded(ctx context.Context, inst *ProcessInstance)

	// OnTaskCreated is called after a task (original or escalation) is
	// registered for a stage.
	OnTaskCreated(ctx context.Context, task *Task)

	// OnTaskCompleted is called after a task is completed with a decision.
	OnTaskCompleted(ctx context.Context, task *Task, decision string, d time.Duration)

	// OnEscalation is called when an SLA breach creates an escalation task.
	OnEscalation(ctx context.Context, task *Task, escalationRole string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStarted(ctx context.Context, inst *ProcessInstance) {}
func (NoopObserver) OnWorkflowEnded(ctx context.Context, inst *ProcessInstance)   {}
func (NoopObserver) OnTaskCreated(ctx context.Context, task *Task)                {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, task *Task, decision string, d time.Duration) {
}
func (NoopObserver) OnEscalation(ctx context.Context, task *Task, escalationRole string) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStarted(ctx context.Context, inst *ProcessInstance) {
	for _, o := range c.observers {
		o.OnWorkflowStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowEnded(ctx context.Context, inst *ProcessInstance) {
	for _, o := range c.observers {
		o.OnWorkflowEnded(ctx, inst)
	}
}

func (c *CompositeObserver) OnTaskCreated(ctx context.Context, task *Task) {
	for _, o := range c.observers {
		o.OnTaskCreated(ctx, task)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, task *Task, decision string, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, task, decision, d)
	}
}

func (c *CompositeObserver) OnEscalation(ctx context.Context, task *Task, escalationRole string) {
	for _, o := range c.observers {
		o.OnEscalation(ctx, task, escalationRole)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStarted(ctx context.Context, inst *ProcessInstance) {
	o.Logger.InfoContext(ctx, "workflow_started",
		slog.String("topology", inst.Topology),
		slog.String("instance_id", inst.ID),
		slog.String("stage", inst.Stage),
	)
}

func (o *LoggingObserver) OnWorkflowEnded(ctx context.Context, inst *ProcessInstance) {
	o.Logger.InfoContext(ctx, "workflow_ended",
		slog.String("topology", inst.Topology),
		slog.String("instance_id", inst.ID),
		slog.String("status", string(inst.Status)),
	)
}

func (o *LoggingObserver) OnTaskCreated(ctx context.Context, task *Task) {
	o.Logger.DebugContext(ctx, "task_created",
		slog.String("instance_id", task.InstanceID),
		slog.String("task_id", task.ID),
		slog.String("stage", task.Stage),
		slog.String("kind", string(task.Kind)),
		slog.Bool("escalation", task.Escalation),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, task *Task, decision string, d time.Duration) {
	o.Logger.InfoContext(ctx, "task_completed",
		slog.String("instance_id", task.InstanceID),
		slog.String("task_id", task.ID),
		slog.String("stage", task.Stage),
		slog.String("decision", decision),
		slog.Duration("open_for", d),
	)
}

func (o *LoggingObserver) OnEscalation(ctx context.Context, task *Task, escalationRole string) {
	o.Logger.WarnContext(ctx, "sla_breach_escalation",
		slog.String("instance_id", task.InstanceID),
		slog.String("task_id", task.ID),
		slog.String("stage", task.Stage),
		slog.String("escalation_role", escalationRole),
	)
}

// BasicMetrics collects simple counters and aggregate task durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted  atomic.Int64
	workflowsEnded    atomic.Int64
	tasksCreated      atomic.Int64
	tasksCompleted    atomic.Int64
	escalations       atomic.Int64
	totalTaskDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted int64
	WorkflowsEnded   int64
	OpenWorkflows    int64

	TasksCreated   int64
	TasksCompleted int64
	Escalations    int64

	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStarted(ctx context.Context, inst *ProcessInstance) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowEnded(ctx context.Context, inst *ProcessInstance) {
	m.workflowsEnded.Add(1)
}

func (m *BasicMetrics) OnTaskCreated(ctx context.Context, task *Task) {
	m.tasksCreated.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, task *Task, decision string, d time.Duration) {
	m.tasksCompleted.Add(1)
	m.totalTaskDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnEscalation(ctx context.Context, task *Task, escalationRole string) {
	m.escalations.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	ended := m.workflowsEnded.Load()
	completed := m.tasksCompleted.Load()
	totalNs := m.totalTaskDuration.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalNs / completed)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted: started,
		WorkflowsEnded:   ended,
		OpenWorkflows:    started - ended,
		TasksCreated:     m.tasksCreated.Load(),
		TasksCompleted:   completed,
		Escalations:      m.escalations.Load(),
		AvgTaskDuration:  avg,
	}
}
