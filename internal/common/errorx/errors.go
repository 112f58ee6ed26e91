package errorx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/amoylab/msgate/internal/common/cnst"
)

// Kind classifies an error for transport mapping
type Kind string

const (
	KindAuth           Kind = "auth"
	KindForbidden      Kind = "forbidden"
	KindNotReady       Kind = "not_ready"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindBackend        Kind = "backend"
	KindInitialization Kind = "initialization"
	KindInternal       Kind = "internal"
)

// Error is a classified error carrying a client-safe message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotReady, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Auth(format string, args ...any) *Error {
	return newError(KindAuth, nil, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, nil, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// NotReady reports a session that exists but cannot serve the request yet
func NotReady(format string, args ...any) *Error {
	return newError(KindNotReady, nil, format, args...)
}

// Backend wraps a messaging backend failure; the cause is shown to the client
func Backend(err error, format string, args ...any) *Error {
	return newError(KindBackend, err, format, args...)
}

// Initialization wraps a lifecycle failure while bringing a session up
func Initialization(err error, format string, args ...any) *Error {
	return newError(KindInitialization, err, format, args...)
}

// From classifies any error. Known sentinels get their kind, everything
// else becomes an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, cnst.ErrInvalidCredentials):
		return &Error{Kind: KindAuth, Message: "Invalid credentials.", Err: err}
	case errors.Is(err, cnst.ErrEmptySessionKey):
		return &Error{Kind: KindValidation, Message: "Session ID is required.", Err: err}
	case errors.Is(err, cnst.ErrSessionNotFound):
		return &Error{Kind: KindNotFound, Message: "Session not found.", Err: err}
	case errors.Is(err, cnst.ErrSessionNotReady), errors.Is(err, cnst.ErrSessionNotConnected):
		return &Error{Kind: KindNotReady, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	e := From(err)
	return e != nil && e.Kind == kind
}
