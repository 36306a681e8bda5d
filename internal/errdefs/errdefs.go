// Package errdefs defines the error taxonomy shared by craftd components.
//
// Errors carry a Kind (what went wrong) and a Severity (whether the caller
// must stop or may log and continue). Matching is done by kind, so callers
// can write errors.Is(err, errdefs.ErrNotRunning) regardless of wrapping.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyRunning
	KindNotRunning
	KindLocked
	KindRemoteResolutionFailed
	KindTransferFailed
	KindIncompatible
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyRunning:
		return "already_running"
	case KindNotRunning:
		return "not_running"
	case KindLocked:
		return "locked"
	case KindRemoteResolutionFailed:
		return "remote_resolution_failed"
	case KindTransferFailed:
		return "transfer_failed"
	case KindIncompatible:
		return "incompatible"
	case KindInvalidOperation:
		return "invalid_operation"
	default:
		return "unknown"
	}
}

// Severity tells the caller whether an error must abort the operation.
type Severity int

const (
	Fatal Severity = iota
	// Advisory errors are logged and swallowed by the caller.
	Advisory
)

// Error is the concrete error type produced by craftd packages.
type Error struct {
	Op       string
	Kind     Kind
	Severity Severity
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = strings.ReplaceAll(e.Kind.String(), "_", " ")
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind. A sentinel with a message also has to
// match that message, which keeps ErrRuntimeNotFound and ErrArtifactMissing apart.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Op != "" || t.Err != nil {
		return false
	}
	return t.Msg == "" || t.Msg == e.Msg
}

// Sentinels. Compare with errors.Is.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrAlreadyRunning         = &Error{Kind: KindAlreadyRunning}
	ErrNotRunning             = &Error{Kind: KindNotRunning}
	ErrLocked                 = &Error{Kind: KindLocked}
	ErrRemoteResolutionFailed = &Error{Kind: KindRemoteResolutionFailed}
	ErrTransferFailed         = &Error{Kind: KindTransferFailed}
	ErrIncompatible           = &Error{Kind: KindIncompatible}
	ErrInvalidOperation       = &Error{Kind: KindInvalidOperation}

	ErrRuntimeNotFound = &Error{Kind: KindNotFound, Msg: "runtime not found"}
	ErrArtifactMissing = &Error{Kind: KindNotFound, Msg: "artifact missing"}
	ErrLastProfile     = &Error{Kind: KindInvalidOperation, Msg: "cannot delete the last profile"}
)

// New returns a fatal error of the given kind.
func New(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a fatal error of the given kind wrapping err.
func Wrap(op string, kind Kind, err error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// From builds an error of sentinel's kind and message, wrapping err (may be nil).
func From(op string, sentinel *Error, err error) *Error {
	return &Error{Op: op, Kind: sentinel.Kind, Severity: sentinel.Severity, Msg: sentinel.Msg, Err: err}
}

// AsAdvisory marks err as advisory. Errors that are not *Error are wrapped.
func AsAdvisory(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Severity: Advisory, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAdvisory reports whether err is tagged advisory.
func IsAdvisory(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == Advisory
	}
	return false
}
