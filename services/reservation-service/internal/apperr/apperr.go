// Package apperr is the error taxonomy shared by the reservation core and its
// HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindMissingReference
	KindOwnershipMismatch
	KindConflict
	KindScheduleConflict
	KindClosedDay
	KindOutsideHours
	KindPastReservation
	KindSignatureMismatch
	KindGateway
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMissingReference:
		return "missing_reference"
	case KindOwnershipMismatch:
		return "ownership_mismatch"
	case KindConflict:
		return "conflict"
	case KindScheduleConflict:
		return "schedule_conflict"
	case KindClosedDay:
		return "closed_day"
	case KindOutsideHours:
		return "outside_hours"
	case KindPastReservation:
		return "past_reservation"
	case KindSignatureMismatch:
		return "signature_mismatch"
	case KindGateway:
		return "gateway"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus is the status code a boundary should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindMissingReference, KindNotFound:
		return http.StatusNotFound
	case KindOwnershipMismatch, KindSignatureMismatch:
		return http.StatusForbidden
	case KindConflict, KindScheduleConflict:
		return http.StatusConflict
	case KindClosedDay, KindOutsideHours, KindPastReservation:
		return http.StatusUnprocessableEntity
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}
	e.Detail[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(what string) *Error { return Newf(KindNotFound, "%s not found", what) }

func MissingReference(what, id string) *Error {
	return Newf(KindMissingReference, "%s not found", what).WithDetail("id", id)
}

func OwnershipMismatch(what string) *Error {
	return Newf(KindOwnershipMismatch, "%s does not belong to the caller", what)
}
