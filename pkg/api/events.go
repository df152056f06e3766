package api

import "time"

// EventType identifies an audit journal event.
type EventType string

const (
	EventWorkflowStarted    EventType = "WORKFLOW_STARTED"
	EventWorkflowCompleted  EventType = "WORKFLOW_COMPLETED"
	EventWorkflowTerminated EventType = "WORKFLOW_TERMINATED"

	EventTaskCreated   EventType = "TASK_CREATED"
	EventTaskClaimed   EventType = "TASK_CLAIMED"
	EventTaskUnclaimed EventType = "TASK_UNCLAIMED"
	EventTaskCompleted EventType = "TASK_COMPLETED"
	EventDecisionMade  EventType = "DECISION_MADE"

	EventSLABreach     EventType = "SLA_BREACH"
	EventTaskEscalated EventType = "TASK_ESCALATED"

	EventComplianceCheckPassed EventType = "COMPLIANCE_CHECK_PASSED"
	EventComplianceCheckFailed EventType = "COMPLIANCE_CHECK_FAILED"

	// EventIncidentRaised marks a worker task that exhausted its retries
	// under a raise-incident fallback policy. The workflow does not advance
	// past it without manual intervention.
	EventIncidentRaised EventType = "INCIDENT_RAISED"
)

// SystemActor is recorded when an event is produced by the engine itself
// rather than a human or worker.
const SystemActor = "system"

// AuditEvent is an immutable record of a state-affecting occurrence.
// Events are append-only; within a process instance they are ordered by a
// monotonic sequence number assigned when the log accepts them.
type AuditEvent struct {
	// Seq is the per-instance acceptance sequence number, assigned by the
	// audit log. Zero on emission.
	Seq int64

	InstanceID string
	TaskID     string
	TaskName   string
	Type       EventType

	OldValue string
	NewValue string

	Actor string
	Role  string

	// Comment is a small human-oriented note. Keep it low-volume.
	Comment string

	At time.Time
}
