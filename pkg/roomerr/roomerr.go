// Package roomerr holds the error kinds shared by every room coordination
// component. Components wrap these sentinels with fmt.Errorf("...: %w") so
// callers classify failures with errors.Is.
package roomerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAccessDenied    = errors.New("access denied")
	ErrUnavailable     = errors.New("shared store unavailable")
	ErrInvalidState    = errors.New("invalid state")
)

// DeniedError is an access denial with the check that produced it.
type DeniedError struct {
	Check  string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied by %s check: %s", e.Check, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

func Denied(check, reason string) error {
	return &DeniedError{Check: check, Reason: reason}
}

// AsDenied unwraps a DeniedError when err carries one.
func AsDenied(err error) (*DeniedError, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}

type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeAlreadyExists   Code = "already_exists"
	CodeUnauthenticated Code = "unauthenticated"
	CodeAccessDenied    Code = "access_denied"
	CodeUnavailable     Code = "unavailable"
	CodeInvalidState    Code = "invalid_state"
	CodeInternal        Code = "internal"
)

// CodeOf maps err onto the wire code sent to websocket clients.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	default:
		return CodeInternal
	}
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
