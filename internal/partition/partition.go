// Package partition derives the global and local iteration-space sizes for a
// kernel invocation from the operation and the matrix shape.
package partition

import (
	"fmt"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
)

// DefaultGroupSize is the local edge used for elementwise kernels.
const DefaultGroupSize = 16

// Shape is the problem size. Multiplications use n×k by k×m; elementwise
// operations use Rows×Cols and ignore K.
type Shape struct {
	N, K, M int
}

// Elementwise returns the shape of a rows×cols elementwise operation.
func Elementwise(rows, cols int) Shape {
	return Shape{N: rows, M: cols}
}

// Product returns the shape of an n×k by k×m multiplication.
func Product(n, k, m int) Shape {
	return Shape{N: n, K: k, M: m}
}

// WorkDescriptor is the per-dimension (global, local) pair for a dispatch.
// A zero Local defers the group size to the device.
type WorkDescriptor struct {
	Global [2]int
	Local  [2]int
}

// NDRange converts the descriptor for dispatch.
func (w WorkDescriptor) NDRange() device.NDRange {
	return device.NDRange{Global: w.Global, Local: w.Local}
}

func (w WorkDescriptor) String() string {
	return w.NDRange().String()
}

// Partitioner maps operations onto work descriptors.
type Partitioner struct {
	// GroupSize is the elementwise local edge.
	GroupSize int
	// TileSize is the tile edge of the tiled multiply.
	TileSize int
}

// New returns a partitioner with the given elementwise group edge and the
// compiled tile edge.
func New(groupSize int) Partitioner {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	return Partitioner{GroupSize: groupSize, TileSize: kernels.TileSize}
}

// Partition derives the work descriptor for op over s.
func (p Partitioner) Partition(op kernels.Op, s Shape) (WorkDescriptor, error) {
	switch op {
	case kernels.OpCopy, kernels.OpFill, kernels.OpAddC:
		return p.elementwise(op, s)
	case kernels.OpMultiplySimple:
		if err := nonEmpty(op, s, true); err != nil {
			return WorkDescriptor{}, err
		}
		return WorkDescriptor{Global: [2]int{s.N, s.M}}, nil
	case kernels.OpMultiply:
		return p.tiled(s)
	default:
		return WorkDescriptor{}, fault.New(fault.DispatchFailure, string(op), "", "no partitioning rule for operation", nil)
	}
}

func (p Partitioner) elementwise(op kernels.Op, s Shape) (WorkDescriptor, error) {
	if err := nonEmpty(op, s, false); err != nil {
		return WorkDescriptor{}, err
	}
	rows, cols := s.N, s.M
	lc, lr := min(p.GroupSize, cols), min(p.GroupSize, rows)
	return WorkDescriptor{
		Global: [2]int{roundUp(cols, lc), roundUp(rows, lr)},
		Local:  [2]int{lc, lr},
	}, nil
}

func (p Partitioner) tiled(s Shape) (WorkDescriptor, error) {
	op := kernels.OpMultiply
	if err := nonEmpty(op, s, true); err != nil {
		return WorkDescriptor{}, err
	}
	t := p.TileSize
	var bad []string
	for _, d := range []struct {
		name string
		v    int
	}{{"n", s.N}, {"k", s.K}, {"m", s.M}} {
		if d.v%t != 0 {
			bad = append(bad, fmt.Sprintf("%s=%d", d.name, d.v))
		}
	}
	if len(bad) > 0 {
		return WorkDescriptor{}, fault.New(fault.ShapeMismatch, string(op), fault.Shape(s.N, s.K, s.M),
			fmt.Sprintf("tiled multiply needs every dimension to be a multiple of %d (%v)", t, bad), nil)
	}
	return WorkDescriptor{Global: [2]int{s.N, s.M}, Local: [2]int{t, t}}, nil
}

func nonEmpty(op kernels.Op, s Shape, product bool) error {
	if product {
		if s.N <= 0 || s.K <= 0 || s.M <= 0 {
			return fault.New(fault.ShapeMismatch, string(op), fault.Shape(s.N, s.K, s.M), "empty operand", nil)
		}
		return nil
	}
	if s.N <= 0 || s.M <= 0 {
		return fault.New(fault.ShapeMismatch, string(op), fault.Shape(s.N, s.M), "empty matrix", nil)
	}
	return nil
}

func roundUp(v, to int) int {
	return (v + to - 1) / to * to
}
