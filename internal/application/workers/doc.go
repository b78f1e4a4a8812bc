// Package workers executes capability calls on behalf of the orchestrator.
//
// The dispatcher wraps every registered capability with:
//   - a fingerprint cache lookup before and after joining a call
//   - coalescing of identical in-flight calls
//   - a per-capability token bucket and concurrency cap
//   - bounded retries with exponential backoff for transient failures
//
// The health monitor logs capability saturation.
package workers
