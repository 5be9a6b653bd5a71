package inference

import (
	"errors"
	"fmt"
)

// Kind classifies a failed inference call.
type Kind int

const (
	// KindServiceUnavailable means the server could not be reached at all.
	KindServiceUnavailable Kind = iota + 1
	// KindTimeout means the call ran past its deadline.
	KindTimeout
	// KindModelNotFound means the server does not have the configured model loaded.
	KindModelNotFound
	// KindUpstream covers every other non-2xx status and malformed bodies.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindTimeout:
		return "timeout"
	case KindModelNotFound:
		return "model_not_found"
	case KindUpstream:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// Error is returned by every fallible Client call.
type Error struct {
	Kind       Kind
	StatusCode int // zero when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ollama %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ollama %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
