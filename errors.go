package ormresource

import (
	"errors"
)

// ErrInvalidArgument is matched by every InvalidArgumentError.
var ErrInvalidArgument = errors.New("ormresource: invalid argument")

// InvalidArgumentError reports an argument rejected by the resource
// before anything is built.
type InvalidArgumentError struct {
	// Arg names the rejected argument, e.g. "options" or "rootPath".
	Arg string
	Msg string
	// Err is the underlying validation error, if any.
	Err error
}

// Error returns the error string.
func (e *InvalidArgumentError) Error() string {
	s := "ormresource: " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether the target error matches InvalidArgumentError.
// This allows errors.Is(err, ErrInvalidArgument) to return true.
func (e *InvalidArgumentError) Is(err error) bool {
	return err == ErrInvalidArgument
}

// Unwrap returns the underlying error.
func (e *InvalidArgumentError) Unwrap() error {
	return e.Err
}

// IsInvalidArgument returns true if the error is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidArgument)
}

func invalidArgument(arg, msg string, err error) error {
	return &InvalidArgumentError{Arg: arg, Msg: msg, Err: err}
}
