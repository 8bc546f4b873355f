// Package fault defines the error taxonomy shared by the partitioner, the
// device layer and the execution driver.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// ShapeMismatch: operand dimensions are incompatible or violate a kernel precondition.
	ShapeMismatch Kind = iota + 1
	// DeviceAllocationFailure: the device could not provide a buffer.
	DeviceAllocationFailure
	// TransferFailure: a host<->device copy failed.
	TransferFailure
	// DispatchFailure: kernel lookup, argument binding or execution failed.
	DispatchFailure
	// CorrectnessMismatch: device output disagrees with the reference.
	CorrectnessMismatch
)

func (k Kind) String() string {
	switch k {
	case ShapeMismatch:
		return "ShapeMismatch"
	case DeviceAllocationFailure:
		return "DeviceAllocationFailure"
	case TransferFailure:
		return "TransferFailure"
	case DispatchFailure:
		return "DispatchFailure"
	case CorrectnessMismatch:
		return "CorrectnessMismatch"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrShapeMismatch       = &Error{Kind: ShapeMismatch}
	ErrDeviceAllocation    = &Error{Kind: DeviceAllocationFailure}
	ErrTransfer            = &Error{Kind: TransferFailure}
	ErrDispatch            = &Error{Kind: DispatchFailure}
	ErrCorrectnessMismatch = &Error{Kind: CorrectnessMismatch}
)

// Error is a classified failure carrying the operation and shape that triggered it.
type Error struct {
	Kind  Kind
	Op    string // operation or kernel name
	Shape string // e.g. "32x48x16" or "4x8"
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s += " in " + e.Op
	}
	if e.Shape != "" {
		s += " [" + e.Shape + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, shape, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Shape: shape, Msg: msg, Err: err}
}

// Shape formats dimensions as "d0xd1x...".
func Shape(dims ...int) string {
	s := ""
	for i, d := range dims {
		if i > 0 {
			s += "x"
		}
		s += fmt.Sprint(d)
	}
	return s
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Annotate attributes err to op and shape. When err already carries an
// *Error of kind, that error is re-labelled in place of wrapping it so the
// message names the failing primitive once; otherwise err is wrapped.
func Annotate(err error, kind Kind, op, shape string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != kind {
		return New(kind, op, shape, "", err)
	}
	c := *fe
	if c.Op != op {
		if c.Op != "" {
			c.Msg = strings.TrimSuffix(c.Op+": "+c.Msg, ": ")
		}
		c.Op = op
	}
	if c.Shape == "" {
		c.Shape = shape
	}
	return &c
}
