// Package kerr defines the precondition errors returned by the kernels.
package kerr

import (
	"errors"
	"fmt"
)

var (
	ErrNilTensor        = errors.New("nil tensor")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrDTypeMismatch    = errors.New("dtype mismatch")
	ErrDeviceMismatch   = errors.New("device mismatch")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCountLength      = errors.New("tokens_per_expert length does not match num_experts")
	ErrNegativeCount    = errors.New("negative expert count")
	ErrCountMismatch    = errors.New("expert counts do not match assignments")
	ErrExpertOutOfRange = errors.New("expert id out of range")
)

// PreconditionError reports which input check of an operation failed.
// Err is always one of the package sentinels.
type PreconditionError struct {
	Op     string
	Arg    string
	Detail string
	Err    error
}

func (e *PreconditionError) Error() string {
	msg := e.Op
	if e.Arg != "" {
		msg += ": " + e.Arg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg + ": " + e.Err.Error()
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// New builds a PreconditionError with a formatted detail.
func New(op, arg string, sentinel error, format string, args ...any) error {
	return &PreconditionError{
		Op:     op,
		Arg:    arg,
		Detail: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}
