// Package api defines the public types and contracts of the approvo
// workflow engine: process instances, tasks, stage topologies, audit
// events, worker-protocol results, and the observer callbacks.
//
// Application code normally imports the root approvo package, which
// re-exports everything here; internal packages share these types without
// depending on each other's implementations.
package api
