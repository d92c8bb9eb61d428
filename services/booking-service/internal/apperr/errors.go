// Package apperr defines the typed failures returned at operation boundaries.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
)

// Stable codes within each kind.
const (
	CodeSlotNotFound         = "slot_not_found"
	CodeAppointmentNotFound  = "appointment_not_found"
	CodeAlreadyReserved      = "already_reserved"
	CodeDuplicateSlot        = "duplicate_slot"
	CodeSlotBooked           = "slot_booked"
	CodeIllegalTransition    = "illegal_transition"
	CodeProviderMismatch     = "provider_mismatch"
	CodeChannelNotAuthorized = "channel_not_authorized"
	CodeForbidden            = "forbidden"
	CodeInvalidInput         = "invalid_input"
)

type Error struct {
	Kind   Kind
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is matches another *Error with the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// Sentinels for errors.Is checks.
var (
	ErrSlotNotFound         = New(KindNotFound, CodeSlotNotFound, "slot not found")
	ErrAppointmentNotFound  = New(KindNotFound, CodeAppointmentNotFound, "appointment not found")
	ErrAlreadyReserved      = New(KindConflict, CodeAlreadyReserved, "slot already booked")
	ErrDuplicateSlot        = New(KindConflict, CodeDuplicateSlot, "this slot already exists")
	ErrSlotBooked           = New(KindConflict, CodeSlotBooked, "cannot modify a booked slot")
	ErrProviderMismatch     = New(KindValidation, CodeProviderMismatch, "slot does not belong to the selected provider")
	ErrChannelNotAuthorized = New(KindUnauthorized, CodeChannelNotAuthorized, "chat is only open for approved appointments")
	ErrForbidden            = New(KindUnauthorized, CodeForbidden, "insufficient role")
)

func IllegalTransition(from, event string) *Error {
	return New(KindConflict, CodeIllegalTransition, fmt.Sprintf("cannot %s an appointment that is %s", event, from))
}

func Invalid(reason string) *Error {
	return New(KindValidation, CodeInvalidInput, reason)
}

// As extracts the typed failure from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
