// Package errs defines the stable error kinds shared across the
// orchestrator and a chainable Error type that preserves a causal chain
// while remaining errors.Is/errors.As friendly.
package errs

import "errors"

// Kind is a stable, serializable error classification. Kinds are emitted in
// events and never change shape across releases.
type Kind string

const (
	KindConfigInvalid         Kind = "config_invalid"
	KindSessionIOFailure      Kind = "session_io_failure"
	KindToolArgInvalid        Kind = "tool_arg_invalid"
	KindToolUpstreamFailed    Kind = "tool_upstream_failed"
	KindToolTimeout           Kind = "tool_timeout"
	KindToolOrphan            Kind = "tool_orphan"
	KindToolUnauthorized      Kind = "tool_unauthorized"
	KindToolNotFound          Kind = "tool_not_found"
	KindLLMStreamError        Kind = "llm_stream_error"
	KindSemanticEvalFailed    Kind = "semantic_eval_failed"
	KindTurnTimeout           Kind = "turn_timeout"
	KindTurnCancelled         Kind = "turn_cancelled"
	KindTransitionConfigDrift Kind = "transition_config_drift"
	KindSessionTerminal       Kind = "session_terminal"
	KindTooManyTools          Kind = "too_many_tools"
	KindSTTFailure            Kind = "stt_failure"
	KindTTSFailure            Kind = "tts_failure"
)

// Error is a structured error carrying a stable Kind, a human-readable
// message, and an optional causal chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As traversal of the causal chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.New(errs.KindToolTimeout, "")) to classify.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
