// Package metrics provides a Prometheus-backed Observer: workflow, task,
// and escalation counters plus a task-duration histogram, registered on a
// caller-supplied registerer.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/approvo/pkg/api"
)

// Observer implements api.Observer on Prometheus collectors.
type Observer struct {
	workflowsStarted prometheus.Counter
	workflowsEnded   *prometheus.CounterVec
	tasksCreated     *prometheus.CounterVec
	tasksCompleted   *prometheus.CounterVec
	escalations      prometheus.Counter
	taskDuration     prometheus.Histogram
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates an Observer and registers its collectors on reg.
// Pass prometheus.DefaultRegisterer to use the default registry.
func NewObserver(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		workflowsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "approvo",
			Name:      "workflows_started_total",
			Help:      "Process instances started.",
		}),
		workflowsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvo",
			Name:      "workflows_ended_total",
			Help:      "Process instances that reached a terminal status.",
		}, []string{"status"}),
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvo",
			Name:      "tasks_created_total",
			Help:      "Tasks created, including escalation side-tasks.",
		}, []string{"kind"}),
		tasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvo",
			Name:      "tasks_completed_total",
			Help:      "Tasks completed, by decision.",
		}, []string{"decision"}),
		escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "approvo",
			Name:      "sla_escalations_total",
			Help:      "Escalation tasks created on SLA breach.",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approvo",
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to completion.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

func (o *Observer) OnWorkflowStarted(ctx context.Context, inst *api.ProcessInstance) {
	o.workflowsStarted.Inc()
}

func (o *Observer) OnWorkflowEnded(ctx context.Context, inst *api.ProcessInstance) {
	o.workflowsEnded.WithLabelValues(string(inst.Status)).Inc()
}

func (o *Observer) OnTaskCreated(ctx context.Context, task *api.Task) {
	o.tasksCreated.WithLabelValues(string(task.Kind)).Inc()
}

func (o *Observer) OnTaskCompleted(ctx context.Context, task *api.Task, decision string, d time.Duration) {
	o.tasksCompleted.WithLabelValues(decision).Inc()
	o.taskDuration.Observe(d.Seconds())
}

func (o *Observer) OnEscalation(ctx context.Context, task *api.Task, escalationRole string) {
	o.escalations.Inc()
}
