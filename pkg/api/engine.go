package api

import (
	"context"
	"time"
)

// InstanceListOptions controls how process instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Topology, if non-empty, limits results to instances of the given topology.
	Topology string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status

	// Submitter, if non-empty, limits results to instances whose submitterId
	// variable matches.
	Submitter string
}

// Engine is the process-instance manager: it owns the per-request state
// machine and its variable bag.
type Engine interface {
	// RegisterTopology validates and registers a topology by name.
	// Registration fails with ErrInvalidTopology for unusable topologies.
	RegisterTopology(def Topology) error

	// Start creates a process instance of a registered topology in its first
	// stage, seeds the first task, and returns the instance. The instance is
	// PENDING until its first task is claimed or its first stage resolves.
	Start(ctx context.Context, topology string, variables map[string]any) (*ProcessInstance, error)

	// Advance applies the transition for (current stage, variable=value),
	// merges variables into the instance, and returns the next stage name
	// (empty when the instance reached a terminal status). It fails with
	// ErrUnknownTransition when no table entry matches.
	Advance(ctx context.Context, instanceID, variable, value string, variables map[string]any) (string, error)

	// Terminate forces the instance to TERMINATED regardless of its current
	// stage, expiring open tasks. Idempotent if already terminal.
	Terminate(ctx context.Context, instanceID, reason string) error

	// GetInstance looks up a process instance by ID.
	GetInstance(ctx context.Context, id string) (*ProcessInstance, error)

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*ProcessInstance, error)
}

// TaskService is the human-facing task registry surface: list, claim,
// unclaim, and complete units of work on behalf of an authenticated actor.
type TaskService interface {
	Get(ctx context.Context, taskID string) (*Task, error)

	// Claim succeeds only if the task is unassigned or already held by actor.
	// A concurrent claim resolves by compare-and-set; the loser receives
	// ErrAlreadyClaimed. The first claim on an instance moves it from
	// PENDING to IN_REVIEW.
	Claim(ctx context.Context, taskID, actor string) (*Task, error)

	// Unclaim clears the assignee; actor must be the current assignee.
	Unclaim(ctx context.Context, taskID, actor string) error

	// Complete records the stage decision and advances the workflow. A
	// decision the stage has no transition for fails with
	// ErrUnknownTransition and leaves the task open. Completing an
	// already-completed task is a no-op success.
	Complete(ctx context.Context, taskID, actor, decision string, variables map[string]any) error

	// ListByRoleGroup returns open tasks whose candidate groups include role.
	ListByRoleGroup(ctx context.Context, role string) ([]*Task, error)

	// ListByAssignee returns open tasks held by actor.
	ListByAssignee(ctx context.Context, actor string) ([]*Task, error)

	// ListByInstance returns open tasks of a process instance.
	ListByInstance(ctx context.Context, instanceID string) ([]*Task, error)
}

// FailResult tells a worker what happened to a failed task: retry later, or
// resolved via the topic's fallback policy. Retry vs exhausted is a
// return-value branch, never an error kind.
type FailResult struct {
	// Retry is true when the task will become re-leasable after Delay.
	Retry bool

	// Delay is the linear backoff before the task is eligible again.
	Delay time.Duration

	// RetriesRemaining after this failure.
	RetriesRemaining int

	// Fallback is set when retries are exhausted, naming the applied policy.
	Fallback FallbackKind
}

// WorkerService is the lease/fetch/complete/fail protocol consumed by
// external worker processes.
type WorkerService interface {
	// Lease atomically checks out up to maxBatch eligible tasks for topic.
	// Tasks whose prior lease expired are eligible again.
	Lease(ctx context.Context, topic, workerID string, leaseDuration time.Duration, maxBatch int) ([]*Task, error)

	// Complete requires an active lease held by workerID; it records the
	// decision from the stage's decision variable and releases the lease.
	Complete(ctx context.Context, taskID, workerID string, output map[string]any) error

	// Fail reports a transient failure. With retries remaining the task is
	// released with a backoff delay; otherwise the topic's fallback policy
	// resolves it.
	Fail(ctx context.Context, taskID, workerID, reason string) (FailResult, error)
}

// AuditQuery is the read side of the append-only audit journal.
type AuditQuery interface {
	// ByInstance returns the instance's events in acceptance order.
	ByInstance(ctx context.Context, instanceID string) ([]AuditEvent, error)
	ByTask(ctx context.Context, taskID string) ([]AuditEvent, error)
	ByActor(ctx context.Context, actor string) ([]AuditEvent, error)
	ByEventType(ctx context.Context, t EventType) ([]AuditEvent, error)
	ByDateRange(ctx context.Context, start, end time.Time) ([]AuditEvent, error)

	// CountSince counts events of type t accepted at or after since.
	CountSince(ctx context.Context, t EventType, since time.Time) (int64, error)

	// InstancesWithBreach returns ids of instances with an SLA_BREACH event
	// at or after since.
	InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error)
}
