package capture

import (
	"errors"
	"fmt"
)

// Kind classifies a session error for retry and reporting decisions.
type Kind int

const (
	// KindUnknown indicates the error type cannot be determined.
	KindUnknown Kind = iota
	// KindConfig indicates missing or invalid session configuration. Never retried.
	KindConfig
	// KindConnect indicates the upstream handshake or auth was rejected.
	// Fatal for the session; any reconnect policy belongs to the adapter.
	KindConnect
	// KindIO indicates the output destination is unusable (permissions,
	// invalid path, unreachable store). Fatal for the session.
	KindIO
	// KindSinkWrite indicates a flush-time write failure. Transient: the
	// buffer is kept intact and the next scheduled flush retries.
	KindSinkWrite
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnect:
		return "connect"
	case KindIO:
		return "io"
	case KindSinkWrite:
		return "sink_write"
	default:
		return "unknown"
	}
}

// Error is the session-level error type. Op names the failing operation in
// lowercase, e.g. "open output file".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified session error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the error chain and returns the first classified kind,
// or KindUnknown when no *Error is present.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the failed operation may succeed on a later
// attempt. Only sink writes qualify; everything else ends the session.
func IsRetryable(err error) bool {
	return KindOf(err) == KindSinkWrite
}
