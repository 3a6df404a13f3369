package game

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable code carried by gameError events.
type ErrorCode string

const (
	CodeRoomNotFound     ErrorCode = "room_not_found"
	CodeNotAPlayer       ErrorCode = "not_a_player"
	CodeWrongPhase       ErrorCode = "wrong_phase"
	CodeRoomFull         ErrorCode = "room_full"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeIdentityMismatch ErrorCode = "identity_mismatch"
	CodeNoProblems       ErrorCode = "no_problems"
	CodeInternal         ErrorCode = "internal"
)

// ValidationError rejects a request without changing any state.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code ErrorCode, format string, args ...any) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrNoProblems is returned when no problem of the requested difficulty exists.
var ErrNoProblems = &ValidationError{Code: CodeNoProblems, Message: "no problems available for this difficulty"}

// CodeOf maps err to the code reported to clients.
func CodeOf(err error) ErrorCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message for err. Internal errors are not echoed.
func MessageOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return "internal error"
}
