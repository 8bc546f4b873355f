package kernels

import (
	"fmt"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Elementwise kernels map global id 0 to the column and id 1 to the row.
// Work-items outside rows×cols exist when the global size was rounded up to
// the group size; they return without writing.

func elementwiseBuffers[T matrix.Element](rows, cols int, bufs ...device.Global) ([][]T, error) {
	out := make([][]T, len(bufs))
	for i, b := range bufs {
		s := device.Slice[T](b)
		if len(s) < rows*cols {
			return nil, fmt.Errorf("buffer %d holds %d elements, need %d for %dx%d", i, len(s), rows*cols, rows, cols)
		}
		out[i] = s
	}
	return out, nil
}

func bindCopy[T matrix.Element](args []any) (device.Launch, error) {
	rows, cols := args[0].(int), args[1].(int)
	bufs, err := elementwiseBuffers[T](rows, cols, args[2].(device.Global), args[3].(device.Global))
	if err != nil {
		return device.Launch{}, err
	}
	dst, src := bufs[0], bufs[1]
	return device.Launch{Body: func(w *device.WorkItem) {
		c, r := w.GlobalID(0), w.GlobalID(1)
		if c >= cols || r >= rows {
			return
		}
		idx := r*cols + c
		dst[idx] = src[idx]
	}}, nil
}

func bindFill[T matrix.Element](args []any) (device.Launch, error) {
	rows, cols := args[0].(int), args[1].(int)
	bufs, err := elementwiseBuffers[T](rows, cols, args[2].(device.Global))
	if err != nil {
		return device.Launch{}, err
	}
	dst, value := bufs[0], args[3].(T)
	return device.Launch{Body: func(w *device.WorkItem) {
		c, r := w.GlobalID(0), w.GlobalID(1)
		if c >= cols || r >= rows {
			return
		}
		dst[r*cols+c] = value
	}}, nil
}

func bindAddC[T matrix.Element](args []any) (device.Launch, error) {
	rows, cols := args[0].(int), args[1].(int)
	bufs, err := elementwiseBuffers[T](rows, cols, args[2].(device.Global), args[3].(device.Global))
	if err != nil {
		return device.Launch{}, err
	}
	dst, src, c := bufs[0], bufs[1], args[4].(T)
	return device.Launch{Body: func(w *device.WorkItem) {
		col, r := w.GlobalID(0), w.GlobalID(1)
		if col >= cols || r >= rows {
			return
		}
		idx := r*cols + col
		dst[idx] = src[idx] + c
	}}, nil
}
