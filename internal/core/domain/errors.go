package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error so transport layers can map it to a status code
// without inspecting message text.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindBadRequest
	KindSecurityRejected
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindSecurityRejected:
		return "security_rejected"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Error is the domain error type. Msg is safe to show to callers; Err, if
// set, carries the underlying cause and is never rendered to users.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by kind, so errors.Is(err, ErrNotFound)
// works for any not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinel values for errors.Is matching by kind.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrBadRequest          = &Error{Kind: KindBadRequest}
	ErrSecurityRejected    = &Error{Kind: KindSecurityRejected}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrInternal            = &Error{Kind: KindInternal}
)

// KindOf extracts the kind of err, defaulting to KindInternal for errors
// that did not originate in the domain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
