package chat

import (
	"errors"
	"fmt"
)

// Code classifies engine errors so the gateway can map them onto
// outbound error events and handshake refusals.
type Code string

const (
	CodeAuth              Code = "auth_error"
	CodePermissionDenied  Code = "permission_denied"
	CodeValidation        Code = "validation_error"
	CodeNotFound          Code = "not_found"
	CodeTransientDelivery Code = "transient_delivery_failure"
	CodeInternal          Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the engine code from err, defaulting to CodeInternal
// for anything untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
