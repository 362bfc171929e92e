package services

// services should wrap any error that can come from their process
//    e.i. http errors should be wrapped
//    and database errors need not be wrapped

import (
	"errors"
	"fmt"
)

var (
	// retrying later could work
	ErrTemporaryNetworkFailure = errors.New("network failure")

	// the upstream answered with something we cannot parse, retrying
	// probably wouldn't work
	ErrIncorrectAssumption = errors.New("unrecoverable failure")
)

const (
	CodeGeneric         = -1
	CodeLoginFail       = 100
	CodeCaptchaRequired = 101
	CodeMFARequired     = 102
	CodeAccountChoice   = 103
	CodeUnparseable     = 500
)

// ServerError is a structured failure reported by an upstream site, or a
// login state escalated by LoginOrRaise.
type ServerError struct {
	Code    int
	Message string
}

func NewServerError(code int, message string) *ServerError {
	return &ServerError{Code: code, Message: message}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Unparseable reports that upstream data did not have the expected shape.
// The result matches both *ServerError and ErrIncorrectAssumption.
func Unparseable(format string, args ...any) error {
	return errors.Join(
		&ServerError{Code: CodeUnparseable, Message: fmt.Sprintf(format, args...)},
		ErrIncorrectAssumption,
	)
}
