// Package approvo provides an embeddable approval workflow engine for Go.
//
// Approvo models multi-stage approval processes that mix human decisions with
// automated checks: a request moves through a fixed sequence of stages, each
// stage producing exactly one task, and each decision driving the instance to
// the next stage or to a terminal status. It runs fully in-process, persists
// to memory or SQLite, and integrates into existing services without external
// orchestration infrastructure.
//
// # Core Concepts
//
// The programming model has five parts:
//
//  1. Topology
//  2. Engine
//  3. Tasks
//  4. Workers
//  5. Audit
//
// # Topology
//
// A Topology is the fixed stage graph of a workflow: for each stage, who acts
// on it (human role groups or a worker topic), the process variable carrying
// its decision, an optional SLA with an escalation role, and a transition
// table mapping decision values to the next stage or a terminal status.
// Topologies are configuration: build them with TopologyBuilder, load them
// from YAML with pkg/config, or use DefaultTopology.
//
// # Engine
//
// The Engine owns process instances. It starts instances, applies decisions,
// merges produced variables into instance state with optimistic concurrency,
// and terminates instances on request. State is versioned; concurrent writers
// retry on conflict rather than overwrite each other.
//
// # Tasks
//
// Every active stage is represented by a task. Human tasks are claimed by one
// actor at a time (first claim wins, losers get ErrAlreadyClaimed) and
// completed with a decision value. Tasks carry an SLA deadline; breaching it
// creates an escalation task for a senior role while the original task stays
// open, and whichever is completed first resolves the stage.
//
// # Workers
//
// Automated stages are served by external workers over a lease protocol:
// workers lease tasks from their topic for a bounded duration, then complete
// or fail them. Failures retry with linear backoff up to a per-topic budget;
// exhausted retries trigger the topic's fallback policy (complete with
// defaults, raise an incident, or complete with a failure flag). pkg/worker
// provides a polling client and the built-in handlers of the default
// topology.
//
// # Audit
//
// Every state change is recorded in an append-only journal with a per-instance
// sequence number, so the exact history of a decision is reconstructable in
// causal order. The journal supports queries by instance, task, actor, event
// type, and date range.
//
// # Getting Started
//
// Bundle wires all of the above around a shared store:
//
//	bundle := approvo.NewInMemoryBundle(approvo.Options{})
//	defer bundle.Close()
//
//	bundle.Engine.RegisterTopology(approvo.DefaultTopology())
//	inst, err := bundle.Engine.Start(ctx, "regulatory-approval", map[string]any{
//	    "requestId":   "REQ-1001",
//	    "requestType": "FINANCIAL_PRODUCT",
//	    "department":  "TRADING",
//	    "submitterId": "alice",
//	})
//
// Human participants act through bundle.Tasks; automated workers connect a
// worker.Client to bundle.Workers; bundle.Audit answers history queries.
package approvo
