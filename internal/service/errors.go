package service

import (
	"errors"
	"net/http"
)

// Kind classifies a failed forward operation.
type Kind int

const (
	// KindInternal is any failure that is neither validation nor transport.
	KindInternal Kind = iota
	// KindValidation means the request was rejected before any I/O.
	KindValidation
	// KindTransport means the outbound call itself failed.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a failure of this kind is reported with.
func (k Kind) HTTPStatus() int {
	if k == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrUnsupportedMethod is the cause of a validation failure for a method
// outside the supported set.
var ErrUnsupportedMethod = errors.New("Unsupported HTTP method") //nolint:staticcheck // message is part of the wire contract

// ErrHostNotAllowed is the cause of a validation failure for a target host
// outside the configured allowlist.
var ErrHostNotAllowed = errors.New("Target host not allowed") //nolint:staticcheck // message is part of the wire contract

// Error is the single error type returned by Forward.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: "Request failed: " + err.Error(), Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err. Errors not produced by Forward are internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
