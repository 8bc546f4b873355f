package kernels

import (
	"fmt"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Handle is one compiled (operation, element type) entry point. It is
// immutable once built and implements device.Entry.
type Handle struct {
	src   Source
	dtype matrix.DType
	bind  binder
}

func (h *Handle) Op() Op              { return h.src.Op }
func (h *Handle) DType() matrix.DType { return h.dtype }
func (h *Handle) Source() Source      { return h.src }

// Name is the entry point name, e.g. "multiply<float32>".
func (h *Handle) Name() string {
	return EntryName(h.src.Op, h.dtype)
}

// EntryName formats the entry point name of op instantiated for dt.
func EntryName(op Op, dt matrix.DType) string {
	return fmt.Sprintf("%s<%s>", op, dt)
}

// Bind checks args against the kernel parameters and binds them.
func (h *Handle) Bind(args []any) (device.Launch, error) {
	if len(args) != len(h.src.Params) {
		return device.Launch{}, fault.New(fault.DispatchFailure, h.Name(), "",
			fmt.Sprintf("want %d arguments, got %d", len(h.src.Params), len(args)), nil)
	}
	for i, p := range h.src.Params {
		if err := h.check(p, args[i]); err != nil {
			return device.Launch{}, fault.New(fault.DispatchFailure, h.Name(), "", fmt.Sprintf("argument %d", i), err)
		}
	}
	l, err := h.bind(args)
	if err != nil {
		return device.Launch{}, fault.New(fault.DispatchFailure, h.Name(), "", "", err)
	}
	return l, nil
}

func (h *Handle) check(p Param, arg any) error {
	switch p {
	case Dim:
		v, ok := arg.(int)
		if !ok {
			return fmt.Errorf("want int dimension, got %T", arg)
		}
		if v < 0 {
			return fmt.Errorf("negative dimension %d", v)
		}
	case Buf:
		if _, ok := arg.(device.Global); !ok {
			return fmt.Errorf("want device buffer, got %T", arg)
		}
	case Scalar:
		if !scalarOf(h.dtype, arg) {
			return fmt.Errorf("want %s scalar, got %T", h.dtype, arg)
		}
	}
	return nil
}

func scalarOf(dt matrix.DType, v any) bool {
	switch v.(type) {
	case int32:
		return dt == matrix.Int32
	case int64:
		return dt == matrix.Int64
	case float32:
		return dt == matrix.Float32
	case float64:
		return dt == matrix.Float64
	}
	return false
}

type key struct {
	op    Op
	dtype matrix.DType
}

// Program is the kernel library compiled for a set of element types.
type Program struct {
	handles map[key]*Handle
	dtypes  []matrix.DType
}

// Build compiles every registered kernel for the given element types, or for
// all supported types when none are given.
func Build(dtypes ...matrix.DType) (*Program, error) {
	if len(dtypes) == 0 {
		dtypes = matrix.DTypes
	}
	p := &Program{handles: make(map[key]*Handle), dtypes: append([]matrix.DType(nil), dtypes...)}
	for _, dt := range dtypes {
		binders, err := instantiate(dt)
		if err != nil {
			return nil, fault.New(fault.DispatchFailure, "build", "", "", err)
		}
		for op := range sources {
			b, ok := binders[op]
			if !ok {
				return nil, fault.New(fault.DispatchFailure, "build", "", fmt.Sprintf("kernel %s has no %s implementation", op, dt), nil)
			}
			src, _ := Lookup(op)
			p.handles[key{op, dt}] = &Handle{src: src, dtype: dt, bind: b}
		}
	}
	return p, nil
}

// MustBuild is Build for all types, panicking on failure.
func MustBuild() *Program {
	p, err := Build()
	if err != nil {
		panic(err)
	}
	return p
}

// Kernel returns the handle for (op, dt).
func (p *Program) Kernel(op Op, dt matrix.DType) (*Handle, error) {
	h, ok := p.handles[key{op, dt}]
	if !ok {
		return nil, fault.New(fault.DispatchFailure, fmt.Sprintf("%s<%s>", op, dt), "", "kernel not built into program", nil)
	}
	return h, nil
}

// DTypes lists the element types the program was built for.
func (p *Program) DTypes() []matrix.DType {
	return append([]matrix.DType(nil), p.dtypes...)
}
