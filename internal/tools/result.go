package tools

import "github.com/fieldservice/concierge/internal/errs"

// ResultKind classifies a failed tool result.
type ResultKind string

const (
	KindArgInvalid     ResultKind = "arg_invalid"
	KindNotFound       ResultKind = "not_found"
	KindUnauthorized   ResultKind = "unauthorized"
	KindUpstreamFailed ResultKind = "upstream_failed"
	KindTimeout        ResultKind = "timeout"
	KindUnknown        ResultKind = "unknown"
)

// Result is the Ok/Err sum returned by Invoke. Exactly one of Payload or
// Err is meaningful, discriminated by Ok.
type Result struct {
	Ok      bool
	Payload map[string]any
	Kind    ResultKind
	Message string
}

// Succeed builds a successful Result.
func Succeed(payload map[string]any) Result {
	return Result{Ok: true, Payload: payload}
}

// Fail builds a failed Result.
func Fail(kind ResultKind, message string) Result {
	return Result{Ok: false, Kind: kind, Message: message}
}

// errKind maps a tool ResultKind onto the shared errs.Kind taxonomy, used
// when a failed Result needs to be surfaced as an error (e.g. event
// recording).
func errKind(k ResultKind) errs.Kind {
	switch k {
	case KindArgInvalid:
		return errs.KindToolArgInvalid
	case KindNotFound:
		return errs.KindToolNotFound
	case KindUnauthorized:
		return errs.KindToolUnauthorized
	case KindUpstreamFailed:
		return errs.KindToolUpstreamFailed
	case KindTimeout:
		return errs.KindToolTimeout
	default:
		return errs.KindToolUpstreamFailed
	}
}

// AsError converts a failed Result into an *errs.Error; returns nil for a
// successful Result.
func (r Result) AsError() error {
	if r.Ok {
		return nil
	}
	return errs.New(errKind(r.Kind), r.Message)
}
