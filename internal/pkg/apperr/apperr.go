// Package apperr defines the error taxonomy shared by the access-control
// surfaces: validation failures are rejected before any network call, network
// failures are transient and never retried automatically, and authorization
// failures carry the service-provided reason when one is available.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure.
type Kind int

const (
	// KindValidation is malformed input: non-numeric token id, empty
	// required field, non-positive duration.
	KindValidation Kind = iota + 1
	// KindNetwork is a timeout or unreachable authorization service.
	KindNetwork
	// KindAuthorization is an explicit rejection by the authorization
	// service (grant refused, token already invalid, ...).
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a classified operation error.
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

// Validation creates a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Network wraps a transport failure.
func Network(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNetwork, Message: fmt.Sprintf(format, args...), Err: err}
}

// Authorization creates a KindAuthorization error with the service reason.
func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

func IsValidation(err error) bool    { return IsKind(err, KindValidation) }
func IsNetwork(err error) bool       { return IsKind(err, KindNetwork) }
func IsAuthorization(err error) bool { return IsKind(err, KindAuthorization) }

// ErrStaleTransition marks an event that arrived for a state that no longer
// matches: a duplicate feed delivery, or an expiry timer firing after a
// revocation already tore the binding down. Callers ignore it silently.
var ErrStaleTransition = errors.New("stale transition")
