// Package llm provides LLM-backed capabilities.
//
// The factory creates a capability based on provider configuration.
// Currently supports:
//   - Anthropic Claude, registered as the "document" capability
package llm
