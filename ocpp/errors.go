package ocpp

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	InternalError                 ErrorCode = "InternalError"
	ProtocolError                 ErrorCode = "ProtocolError"
	SecurityError                 ErrorCode = "SecurityError"
	FormationViolation            ErrorCode = "FormationViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	OccurrenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	GenericError                  ErrorCode = "GenericError"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("charge point is not connected")
	ErrTransportSend    = errors.New("transport send failed")
	ErrDuplicateId      = errors.New("duplicate message id")
)

// Error is an OCPP-level error, either received in a CALLERROR or produced by a local handler.
type Error struct {
	Code        ErrorCode
	Description string
	Details     interface{}
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ParseError classifies an inbound frame that could not be decoded.
type ParseError struct {
	Reason string
	Raw    []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var ocppErr *Error
	if errors.As(err, &ocppErr) {
		return ocppErr.Code == code
	}
	return false
}
