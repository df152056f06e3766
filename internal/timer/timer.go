// Package timer implements SLA escalation timers for workflow tasks.
//
// A timer fires at most once. Firing does not cancel or expire the watched
// task; it only notifies the escalator, which creates an escalation side-task
// next to the original. Completing the task cancels its timer, but a timer
// that already fired stays fired.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Escalator receives timer firings. Implemented by the task registry.
type Escalator interface {
	Escalate(ctx context.Context, taskID, escalationRole string) error
}

type timerState int

const (
	stateScheduled timerState = iota
	stateFired
	stateCancelled
)

// Registration is one scheduled SLA timer, keyed by the watched task.
type Registration struct {
	TaskID         string
	InstanceID     string
	Stage          string
	FireAt         time.Time
	EscalationRole string

	state timerState
}

// Scheduler keeps timer registrations in memory and fires due ones on each
// sweep. Timers do not survive a process restart; re-registration on startup
// is the embedding application's concern.
type Scheduler struct {
	logger    *slog.Logger
	escalator Escalator

	mu     sync.Mutex
	timers map[string]*Registration
}

// NewScheduler creates a Scheduler. If logger is nil, slog.Default() is used.
// The escalator is attached later via BindEscalator.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		timers: make(map[string]*Registration),
	}
}

// BindEscalator attaches the escalation target. Must be called before the
// first sweep; construction order requires it to come after NewScheduler.
func (s *Scheduler) BindEscalator(e Escalator) {
	s.escalator = e
}

// Schedule registers an SLA timer for a task. Scheduling again for the same
// task replaces the previous registration.
func (s *Scheduler) Schedule(r Registration) {
	r.state = stateScheduled

	s.mu.Lock()
	s.timers[r.TaskID] = &r
	s.mu.Unlock()
}

// Cancel marks the task's timer cancelled so it will never fire. Cancelling
// an already-fired timer, or a task with no timer, is a no-op.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.timers[taskID]
	if !ok || r.state != stateScheduled {
		return
	}
	r.state = stateCancelled
}

// Pending reports whether the task has a timer that is still scheduled.
func (s *Scheduler) Pending(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.timers[taskID]
	return ok && r.state == stateScheduled
}

// Sweep fires every scheduled timer whose deadline is at or before now.
// Taking now as a parameter keeps sweeps deterministic in tests. Escalator
// failures are logged and the timer stays fired; a timer never fires twice.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	var due []*Registration

	s.mu.Lock()
	for _, r := range s.timers {
		if r.state == stateScheduled && !r.FireAt.After(now) {
			r.state = stateFired
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		if err := s.escalator.Escalate(ctx, r.TaskID, r.EscalationRole); err != nil {
			s.logger.Error("sla_escalation_failed",
				slog.String("task_id", r.TaskID),
				slog.String("instance_id", r.InstanceID),
				slog.String("stage", r.Stage),
				slog.Any("error", err),
			)
		}
	}
}

// Run sweeps at the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}
