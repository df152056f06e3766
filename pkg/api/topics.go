package api

import "time"

// FallbackKind names the deterministic action taken when a worker task
// exhausts its retries.
type FallbackKind string

const (
	// FallbackCompleteWithDefault completes the task with pre-set default
	// variables; the workflow proceeds normally.
	FallbackCompleteWithDefault FallbackKind = "completeWithDefault"

	// FallbackRaiseIncident expires the task and records an incident event;
	// the workflow does not silently proceed.
	FallbackRaiseIncident FallbackKind = "raiseIncident"

	// FallbackCompleteWithFailureFlag completes the task with success=false;
	// a downstream stage may branch on the flag.
	FallbackCompleteWithFailureFlag FallbackKind = "completeWithFailureFlag"
)

// FallbackPolicy is a topic's retries-exhausted resolution. Each topic
// declares exactly one policy at configuration time.
type FallbackPolicy struct {
	Kind FallbackKind

	// Variables are merged into the completion for completeWithDefault.
	Variables map[string]any
}

// CompleteWithDefault builds a policy that completes the task with the given
// default variables.
func CompleteWithDefault(vars map[string]any) FallbackPolicy {
	return FallbackPolicy{Kind: FallbackCompleteWithDefault, Variables: vars}
}

// RaiseIncident builds a policy that blocks the workflow pending manual
// intervention.
func RaiseIncident() FallbackPolicy {
	return FallbackPolicy{Kind: FallbackRaiseIncident}
}

// CompleteWithFailureFlag builds a policy that completes the task with a
// success=false variable.
func CompleteWithFailureFlag() FallbackPolicy {
	return FallbackPolicy{Kind: FallbackCompleteWithFailureFlag}
}

// TopicConfig is the per-topic worker protocol configuration.
type TopicConfig struct {
	Name       string
	MaxRetries int

	// BaseDelay is the unit of the linear backoff applied between retries:
	// delay = BaseDelay × (MaxRetries − retriesRemaining + 1).
	BaseDelay time.Duration

	Fallback FallbackPolicy
}
