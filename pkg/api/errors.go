package api

import "errors"

// Configuration errors are fatal and never retried.
var (
	// ErrInvalidTopology is returned when a stage topology is empty,
	// references unknown stages, or loops on its happy path.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrUnknownTransition is returned when a decision value has no entry
	// in the current stage's transition table. This is a configuration bug.
	ErrUnknownTransition = errors.New("unknown transition")
)

// Concurrency conflicts are recoverable by caller retry/refresh.
var (
	// ErrAlreadyClaimed is returned when a claim loses to another holder.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrStaleVersion is returned when a compare-and-set update observes a
	// newer version than the caller read.
	ErrStaleVersion = errors.New("stale version")
)

// Worker-protocol errors signal the caller lost ownership and must re-lease.
var (
	ErrLeaseExpired  = errors.New("lease expired")
	ErrLeaseNotOwned = errors.New("lease not owned")
)

// Not-found errors.
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTopologyNotFound = errors.New("topology not found")
)
