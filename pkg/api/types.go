package api

import "time"

// Status represents the lifecycle state of a process instance.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInReview   Status = "IN_REVIEW"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusEscalated  Status = "ESCALATED"
	StatusTerminated Status = "TERMINATED"
)

// IsTerminal reports whether the status ends the workflow. An escalated
// instance is still live: the stage can be completed by either the original
// or the escalation task.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTerminated:
		return true
	}
	return false
}

// Decision values accepted by stages. They are case-sensitive; a stage's
// transition table is keyed by these strings.
const (
	DecisionApproved  = "APPROVED"
	DecisionRejected  = "REJECTED"
	DecisionNeedsInfo = "NEEDS_INFO"
	DecisionEscalate  = "ESCALATE"
	DecisionPass      = "PASS"
	DecisionFail      = "FAIL"
)

// TaskKind distinguishes human review tasks from worker-bound tasks.
type TaskKind string

const (
	TaskKindHuman  TaskKind = "HUMAN"
	TaskKindWorker TaskKind = "WORKER"
)

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskCreated   TaskState = "CREATED"
	TaskAssigned  TaskState = "ASSIGNED"
	TaskCompleted TaskState = "COMPLETED"
	TaskExpired   TaskState = "EXPIRED"
)

// IsOpen reports whether the task can still be claimed or completed.
func (s TaskState) IsOpen() bool {
	return s == TaskCreated || s == TaskAssigned
}

// ProcessInstance is one running execution of the approval workflow.
// It is created by Start, mutated only by the engine as transitions occur,
// and never deleted: terminal instances are kept for audit reconstruction.
type ProcessInstance struct {
	ID       string
	Topology string
	Stage    string
	Status   Status

	// Variables is the instance's variable bag (strings, integers, booleans).
	Variables map[string]any

	// Version is bumped on every mutation; updates use compare-and-set.
	Version int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// Task is a unit of work bound to a stage of a process instance.
type Task struct {
	ID         string
	InstanceID string
	Stage      string
	Name       string
	Kind       TaskKind

	// RoleGroups are the candidate groups for a human task.
	RoleGroups []string

	// Topic is the worker queue name for a worker task.
	Topic string

	// Assignee is the single current holder, empty if unclaimed.
	Assignee string

	State TaskState
	DueAt time.Time

	// Escalation marks a side-task created on SLA breach. It shares the
	// stage with the original task; whichever completes first wins.
	Escalation bool

	// Decision holds the recorded decision value once completed.
	Decision string

	Variables map[string]any

	// Version is bumped on every mutation; claims race via compare-and-set.
	Version int64

	CreatedAt time.Time
}
