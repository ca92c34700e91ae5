// Package errs defines the error taxonomy shared by every cmuxd subsystem
// and the HTTP status codes the API surface maps them to.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way the HTTP API surface needs to report it.
type Kind string

const (
	KindNotFound       Kind = "NotFound"
	KindInvalidRequest Kind = "InvalidRequest"
	KindIpPoolExhausted Kind = "IpPoolExhausted"
	KindMissingBinary  Kind = "MissingBinary"
	KindCommandFailed  Kind = "CommandFailed"
	KindInternal       Kind = "Internal"
)

// Error is a typed cmuxd error carrying a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error { return new_(KindNotFound, format, args...) }

func InvalidRequest(format string, args ...any) *Error {
	return new_(KindInvalidRequest, format, args...)
}

func IpPoolExhausted(format string, args ...any) *Error {
	return new_(KindIpPoolExhausted, format, args...)
}

func MissingBinary(format string, args ...any) *Error {
	return new_(KindMissingBinary, format, args...)
}

// CommandFailed wraps the error from a failed external command invocation
// (bwrap, ip, nsenter, git, ...), keeping the underlying error for %w chains.
func CommandFailed(err error, format string, args ...any) *Error {
	e := new_(KindCommandFailed, format, args...)
	e.Err = err
	return e
}

func Internal(err error, format string, args ...any) *Error {
	e := new_(KindInternal, format, args...)
	e.Err = err
	return e
}

// StatusCode maps an error's Kind to the HTTP status the API surface (J)
// returns for it. Errors that are not *Error map to 500.
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindIpPoolExhausted, KindMissingBinary:
		return http.StatusServiceUnavailable
	case KindCommandFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
