package mcp

import (
	"errors"
	"fmt"
)

// ErrIllegalArgument marks failures caused by the caller's arguments. They still surface
// to the peer as internal errors, with the message as the description.
var ErrIllegalArgument = errors.New("illegal argument")

type argumentError struct {
	msg string
}

func (e *argumentError) Error() string        { return e.msg }
func (e *argumentError) Is(target error) bool { return target == ErrIllegalArgument }

// IllegalArgument builds an error whose text is exactly the formatted message and that
// matches ErrIllegalArgument under errors.Is.
func IllegalArgument(format string, args ...any) error {
	return &argumentError{msg: fmt.Sprintf(format, args...)}
}
