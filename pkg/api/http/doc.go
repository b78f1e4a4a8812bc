// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission, status, results and cancellation
//   - Capability listing and cache invalidation
//   - Health checks
//   - Prometheus metrics
package http
