package approvo

import (
	"context"

	"github.com/petrijr/approvo/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine              = api.Engine
	TaskService         = api.TaskService
	WorkerService       = api.WorkerService
	AuditQuery          = api.AuditQuery
	ProcessInstance     = api.ProcessInstance
	Task                = api.Task
	AuditEvent          = api.AuditEvent
	EventType           = api.EventType
	InstanceListOptions = api.InstanceListOptions
	Status              = api.Status
	TaskKind            = api.TaskKind
	TaskState           = api.TaskState
	Topology            = api.Topology
	StageSpec           = api.StageSpec
	Transition          = api.Transition
	TopicConfig         = api.TopicConfig
	FallbackPolicy      = api.FallbackPolicy
	FailResult          = api.FailResult
	Observer            = api.Observer
	LoggingObserver     = api.LoggingObserver
	BasicMetrics        = api.BasicMetrics
	CompositeObserver   = api.CompositeObserver
	NoopObserver        = api.NoopObserver
)

// Re-export common observer helpers and fallback constructors.

var (
	NewLoggingObserver      = api.NewLoggingObserver
	NewCompositeObserver    = api.NewCompositeObserver
	CompleteWithDefault     = api.CompleteWithDefault
	RaiseIncident           = api.RaiseIncident
	CompleteWithFailureFlag = api.CompleteWithFailureFlag
)

// Re-export status and decision values for convenience.

const (
	StatusPending    = api.StatusPending
	StatusInReview   = api.StatusInReview
	StatusApproved   = api.StatusApproved
	StatusRejected   = api.StatusRejected
	StatusEscalated  = api.StatusEscalated
	StatusTerminated = api.StatusTerminated

	DecisionApproved  = api.DecisionApproved
	DecisionRejected  = api.DecisionRejected
	DecisionNeedsInfo = api.DecisionNeedsInfo
	DecisionEscalate  = api.DecisionEscalate
	DecisionPass      = api.DecisionPass
	DecisionFail      = api.DecisionFail
)

// Convenience helpers that just forward to the underlying services.

// Start creates a process instance of a registered topology.
func Start(ctx context.Context, eng Engine, topology string, variables map[string]any) (*ProcessInstance, error) {
	return eng.Start(ctx, topology, variables)
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*ProcessInstance, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists process instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*ProcessInstance, error) {
	return eng.ListInstances(ctx, opts)
}

// Terminate forces an instance to TERMINATED.
func Terminate(ctx context.Context, eng Engine, id, reason string) error {
	return eng.Terminate(ctx, id, reason)
}
