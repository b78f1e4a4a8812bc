// Package orchestrator implements dependency-aware execution of task graphs.
//
// The manager coordinates runs by:
//   - Validating graph structure, dependencies and capabilities
//   - Driving each run from a single coordination goroutine
//   - Propagating failures to dependents and honoring optional tasks
//   - Publishing lifecycle events and persisting synthesized results
//
// The synthesizer turns a quiescent graph into a GraphResult.
package orchestrator
