package kernels

import (
	"fmt"
	"unsafe"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Multiply kernels take src1 as n×k and src2 as k×m, both row-major, and
// write the row-major n×m product to dst. Global id 0 is the output row and
// id 1 the output column.

func multiplyBuffers[T matrix.Element](n, k, m int, args []any) (dst, src1, src2 []T, err error) {
	dst = device.Slice[T](args[3].(device.Global))
	src1 = device.Slice[T](args[4].(device.Global))
	src2 = device.Slice[T](args[5].(device.Global))
	switch {
	case len(dst) < n*m:
		err = fmt.Errorf("dst holds %d elements, need %d", len(dst), n*m)
	case len(src1) < n*k:
		err = fmt.Errorf("src1 holds %d elements, need %d", len(src1), n*k)
	case len(src2) < k*m:
		err = fmt.Errorf("src2 holds %d elements, need %d", len(src2), k*m)
	}
	return dst, src1, src2, err
}

// bindMultiplySimple computes one output element per work-item straight from
// global memory: k reads of each operand per element.
func bindMultiplySimple[T matrix.Element](args []any) (device.Launch, error) {
	n, k, m := args[0].(int), args[1].(int), args[2].(int)
	dst, src1, src2, err := multiplyBuffers[T](n, k, m, args)
	if err != nil {
		return device.Launch{}, err
	}
	return device.Launch{Body: func(w *device.WorkItem) {
		i, j := w.GlobalID(0), w.GlobalID(1)
		if i >= n || j >= m {
			return
		}
		var acc T
		a, b := i*k, j
		for end := a + k; a < end; a++ {
			acc += src1[a] * src2[b]
			b += m
		}
		dst[i*m+j] = acc
	}}, nil
}

// tiles is the group-local scratch of the tiled multiply.
type tiles[T matrix.Element] struct {
	a [TileSize][TileSize]T
	b [TileSize][TileSize]T
}

// bindMultiply is the blocked multiply. Each TileSize×TileSize group walks
// the k dimension one tile pair at a time: every work-item loads one element
// of each tile into local memory, the group synchronizes, every work-item
// accumulates its TileSize partial products from local memory, and the group
// synchronizes again before the tiles are overwritten.
//
// n, k and m must be multiples of TileSize and the group size must be
// TileSize×TileSize. Other shapes are a caller error; the partitioner rejects
// them before dispatch.
func bindMultiply[T matrix.Element](args []any) (device.Launch, error) {
	n, k, m := args[0].(int), args[1].(int), args[2].(int)
	dst, src1, src2, err := multiplyBuffers[T](n, k, m, args)
	if err != nil {
		return device.Launch{}, err
	}
	return device.Launch{
		Scratch:       func() any { return new(tiles[T]) },
		ScratchBytes:  int(unsafe.Sizeof(tiles[T]{})),
		Barrier:       true,
		RequiredLocal: [2]int{TileSize, TileSize},
		Body: func(w *device.WorkItem) {
			t := w.Scratch().(*tiles[T])
			row, col := w.GlobalID(0), w.GlobalID(1)
			lr, lc := w.LocalID(0), w.LocalID(1)

			var acc T
			for base := 0; base < k; base += TileSize {
				t.a[lr][lc] = src1[row*k+base+lc]
				t.b[lr][lc] = src2[(base+lr)*m+col]
				w.Barrier()

				for e := 0; e < TileSize; e++ {
					acc += t.a[lr][e] * t.b[e][lc]
				}
				w.Barrier()
			}
			dst[row*m+col] = acc
		},
	}, nil
}
