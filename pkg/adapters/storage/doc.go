// Package storage provides result store implementations.
//
// A result store keeps the synthesized GraphResult of finished runs so they
// can be served after the orchestrator evicts the run from memory.
//
// Implementations:
//   - memory: process-local map
//   - redis: JSON documents with an optional TTL
package storage
