// Package kernels is the device-side kernel library: elementwise copy, fill
// and add-constant, and the naive and tiled matrix multiplications.
//
// Kernel sources are registered once in an immutable table keyed by
// operation name. Build instantiates every source for each requested element
// type, producing one Handle per (operation, type) pair.
package kernels

import (
	"fmt"
	"sort"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Op names a kernel.
type Op string

const (
	OpCopy           Op = "copy"
	OpFill           Op = "fill"
	OpAddC           Op = "addc"
	OpMultiplySimple Op = "multiply_simple"
	OpMultiply       Op = "multiply"
)

// TileSize is the tile edge the tiled multiply is compiled for.
const TileSize = 16

// Param is the kind of a kernel parameter.
type Param int

const (
	// Dim is a matrix dimension passed as a non-negative int.
	Dim Param = iota
	// Buf is a device buffer.
	Buf
	// Scalar is a value of the kernel's element type.
	Scalar
)

func (p Param) String() string {
	switch p {
	case Dim:
		return "dim"
	case Buf:
		return "buffer"
	default:
		return "scalar"
	}
}

// Source describes a kernel entry point independent of element type.
type Source struct {
	Op      Op
	Params  []Param
	Doc     string
	Barrier bool
}

// Signature renders the parameter list, e.g. "copy(dim, dim, buffer, buffer)".
func (s Source) Signature() string {
	out := string(s.Op) + "("
	for i, p := range s.Params {
		if i > 0 {
			out += ", "
		}
		out += p.String()
	}
	return out + ")"
}

var sources = map[Op]Source{
	OpCopy: {
		Op:     OpCopy,
		Params: []Param{Dim, Dim, Buf, Buf},
		Doc:    "dst[idx] = src[idx] for every in-bounds element",
	},
	OpFill: {
		Op:     OpFill,
		Params: []Param{Dim, Dim, Buf, Scalar},
		Doc:    "dst[idx] = value for every in-bounds element",
	},
	OpAddC: {
		Op:     OpAddC,
		Params: []Param{Dim, Dim, Buf, Buf, Scalar},
		Doc:    "dst[idx] = src[idx] + c for every in-bounds element",
	},
	OpMultiplySimple: {
		Op:     OpMultiplySimple,
		Params: []Param{Dim, Dim, Dim, Buf, Buf, Buf},
		Doc:    "dst = src1·src2, one output element per work-item reading k values from global memory",
	},
	OpMultiply: {
		Op:      OpMultiply,
		Params:  []Param{Dim, Dim, Dim, Buf, Buf, Buf},
		Doc:     fmt.Sprintf("dst = src1·src2 over %dx%d tiles staged in group-local memory", TileSize, TileSize),
		Barrier: true,
	},
}

// Lookup returns the registered source for op.
func Lookup(op Op) (Source, bool) {
	s, ok := sources[op]
	if ok {
		s.Params = append([]Param(nil), s.Params...)
	}
	return s, ok
}

// Sources lists every registered kernel ordered by name.
func Sources() []Source {
	out := make([]Source, 0, len(sources))
	for op := range sources {
		s, _ := Lookup(op)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// binder turns validated arguments into a launch.
type binder func(args []any) (device.Launch, error)

// typed instantiates every kernel for element type T.
func typed[T matrix.Element]() map[Op]binder {
	return map[Op]binder{
		OpCopy:           bindCopy[T],
		OpFill:           bindFill[T],
		OpAddC:           bindAddC[T],
		OpMultiplySimple: bindMultiplySimple[T],
		OpMultiply:       bindMultiply[T],
	}
}

// instantiate is the only place element types are enumerated.
func instantiate(dt matrix.DType) (map[Op]binder, error) {
	switch dt {
	case matrix.Int32:
		return typed[int32](), nil
	case matrix.Int64:
		return typed[int64](), nil
	case matrix.Float32:
		return typed[float32](), nil
	case matrix.Float64:
		return typed[float64](), nil
	default:
		return nil, fmt.Errorf("no kernels for element type %s", dt)
	}
}
