package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind classifies why a task or capability call did not succeed
type FailureKind string

const (
	FailureKindTimeout           FailureKind = "timeout"
	FailureKindBusy              FailureKind = "busy"
	FailureKindInvalidInput      FailureKind = "invalid_input"
	FailureKindPermanent         FailureKind = "permanent"
	FailureKindRateLimited       FailureKind = "rate_limited"
	FailureKindUnknownCapability FailureKind = "unknown_capability"
	FailureKindCancelled         FailureKind = "cancelled"
	FailureKindDependencyFailed  FailureKind = "dependency_failed"
)

// IsTransient reports whether a failure of this kind is worth retrying.
func (k FailureKind) IsTransient() bool {
	return k == FailureKindTimeout || k == FailureKindBusy
}

// Failure describes a failed or skipped task
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	// Root is the id of the task whose failure caused a skip.
	Root string `json:"root,omitempty"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Input is what a capability receives for one invocation
type Input struct {
	Payload map[string]any `json:"payload,omitempty"`
	// Upstream holds outputs of completed dependencies keyed by task id.
	Upstream map[string]json.RawMessage `json:"upstream,omitempty"`
}

// Outcome is the result of a dispatcher call. Coalesced outcomes shared
// another caller's external call and report zero attempts.
type Outcome struct {
	Output    json.RawMessage `json:"output,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
	Attempts  int             `json:"attempts"`
	FromCache bool            `json:"from_cache,omitempty"`
	Coalesced bool            `json:"coalesced,omitempty"`
}

// Succeeded reports whether the outcome carries an output
func (o Outcome) Succeeded() bool {
	return o.Failure == nil
}

// Success builds a successful outcome
func Success(output json.RawMessage, attempts int) Outcome {
	return Outcome{Output: output, Attempts: attempts}
}

// Fail builds a failed outcome
func Fail(kind FailureKind, message string, attempts int) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message}, Attempts: attempts}
}

// ClassifyError maps an error returned by a capability to a failure kind.
func ClassifyError(err error) FailureKind {
	var rlErr *RateLimitTimeoutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rlErr):
		return FailureKindRateLimited
	case errors.Is(err, ErrBusy):
		return FailureKindBusy
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureKindTimeout
	case errors.Is(err, ErrInvalidInput):
		return FailureKindInvalidInput
	case errors.Is(err, context.Canceled):
		return FailureKindCancelled
	default:
		return FailureKindPermanent
	}
}
