package engine

import (
	"fmt"

	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"github.com/fxnlabs/fastmatrix/internal/partition"
)

// Multiply computes a·b on the device with the given multiply kernel
// (kernels.OpMultiply or kernels.OpMultiplySimple). Column-major operands are
// staged as row-major copies; the product is row-major.
func Multiply[T matrix.Element](d *Driver, op kernels.Op, a, b *matrix.Matrix[T], repeat int) (*matrix.Matrix[T], Timing, error) {
	if op != kernels.OpMultiply && op != kernels.OpMultiplySimple {
		return nil, Timing{}, fault.New(fault.DispatchFailure, string(op), "", "not a multiply kernel", nil)
	}
	n, k, m := a.Rows(), a.Cols(), b.Cols()
	shape := fault.Shape(n, k, m)
	if b.Rows() != k {
		return nil, Timing{}, fault.New(fault.ShapeMismatch, string(op), shape,
			fmt.Sprintf("cannot multiply %dx%d by %dx%d", n, k, b.Rows(), m), nil)
	}
	wd, err := d.part.Partition(op, partition.Product(n, k, m))
	if err != nil {
		return nil, Timing{}, err
	}
	h, err := d.program.Kernel(op, matrix.DTypeOf[T]())
	if err != nil {
		return nil, Timing{}, err
	}

	out := matrix.New[T](n, m, matrix.RowMajor)
	t, err := d.Execute(Invocation{
		Kernel: h,
		Work:   wd,
		Dims:   []int{n, k, m},
		Inputs: []matrix.Host{a.WithOrder(matrix.RowMajor), b.WithOrder(matrix.RowMajor)},
		Output: out,
		Repeat: repeat,
		Shape:  shape,
	})
	if err != nil {
		return nil, t, err
	}
	return out, t, nil
}

// elementwise runs a rows×cols kernel whose output has src's layout.
func elementwise[T matrix.Element](d *Driver, op kernels.Op, rows, cols int, order matrix.Order, inputs []matrix.Host, scalars []any) (*matrix.Matrix[T], Timing, error) {
	shape := fault.Shape(rows, cols)
	wd, err := d.part.Partition(op, partition.Elementwise(rows, cols))
	if err != nil {
		return nil, Timing{}, err
	}
	h, err := d.program.Kernel(op, matrix.DTypeOf[T]())
	if err != nil {
		return nil, Timing{}, err
	}
	out := matrix.New[T](rows, cols, order)
	t, err := d.Execute(Invocation{
		Kernel:  h,
		Work:    wd,
		Dims:    []int{rows, cols},
		Inputs:  inputs,
		Output:  out,
		Scalars: scalars,
		Shape:   shape,
	})
	if err != nil {
		return nil, t, err
	}
	return out, t, nil
}

// Copy returns a device copy of src.
func Copy[T matrix.Element](d *Driver, src *matrix.Matrix[T]) (*matrix.Matrix[T], Timing, error) {
	return elementwise[T](d, kernels.OpCopy, src.Rows(), src.Cols(), src.Order(), []matrix.Host{src}, nil)
}

// AddC returns src + c computed on the device.
func AddC[T matrix.Element](d *Driver, src *matrix.Matrix[T], c T) (*matrix.Matrix[T], Timing, error) {
	return elementwise[T](d, kernels.OpAddC, src.Rows(), src.Cols(), src.Order(), []matrix.Host{src}, []any{c})
}

// Fill returns a rows×cols matrix with every element set to v on the device.
func Fill[T matrix.Element](d *Driver, rows, cols int, order matrix.Order, v T) (*matrix.Matrix[T], Timing, error) {
	return elementwise[T](d, kernels.OpFill, rows, cols, order, nil, []any{v})
}
