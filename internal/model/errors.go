// internal/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// Error classes shared across the acquisition pipeline
var (
	ErrTransport = errors.New("transport error")
	ErrFrame     = errors.New("frame error")
	ErrDecode    = errors.New("decode error")
	ErrSink      = errors.New("sink error")
	ErrSchedule  = errors.New("schedule error")

	ErrSessionActive = errors.New("acquisition session already active")
	ErrNoSession     = errors.New("no active acquisition session")
	ErrInvalidConfig = errors.New("invalid session configuration")
)

// Error attaches an error class and the failing operation to a cause.
// errors.Is matches both the class and the cause.
type Error struct {
	Class error
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(class error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}
