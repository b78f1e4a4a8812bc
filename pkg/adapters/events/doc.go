// Package events provides event bus implementations for run lifecycle events.
//
// Implementations:
//   - redis: Redis Streams, with consumer groups or independent readers
//   - memory: in-process broadcast with ordered per-subscriber delivery
package events
