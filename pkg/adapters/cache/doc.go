// Package cache provides fingerprint cache store implementations.
//
// Implementations:
//   - memory: in-process map with lazy expiry and an optional sweep
//   - redis: shared store using native key TTL
//   - leveldb: local persistent store with stored expiry
package cache
