package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mul computes a·b with a straightforward triple loop in T arithmetic.
// The product is row-major.
func Mul[T Element](a, b *Matrix[T]) (*Matrix[T], error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("matrix: cannot multiply %dx%d by %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	n, k, m := a.rows, a.cols, b.cols
	ra, rb := a.WithOrder(RowMajor), b.WithOrder(RowMajor)
	out := New[T](n, m, RowMajor)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var sum T
			for t := 0; t < k; t++ {
				sum += ra.data[i*k+t] * rb.data[t*m+j]
			}
			out.data[i*m+j] = sum
		}
	}
	return out, nil
}

// Dense converts m to a gonum matrix.
func Dense[T Element](m *Matrix[T]) *mat.Dense {
	d := mat.NewDense(max(m.rows, 1), max(m.cols, 1), nil)
	if m.Len() == 0 {
		return d
	}
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			d.Set(i, j, float64(m.At(i, j)))
		}
	}
	return d
}

// MulDense computes a·b in float64 through gonum and converts the product
// back to T. Used as the reference for floating element types.
func MulDense[T Element](a, b *Matrix[T]) (*Matrix[T], error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("matrix: cannot multiply %dx%d by %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	out := New[T](a.rows, b.cols, RowMajor)
	if a.Len() == 0 || b.Len() == 0 {
		return out, nil
	}
	var res mat.Dense
	res.Mul(Dense(a), Dense(b))
	for i := 0; i < a.rows; i++ {
		for j := 0; j < b.cols; j++ {
			out.data[i*b.cols+j] = T(res.At(i, j))
		}
	}
	return out, nil
}

// Reference picks the host reference appropriate for T: exact integer
// arithmetic for integer types, gonum for floating types.
func Reference[T Element](a, b *Matrix[T]) (*Matrix[T], error) {
	if DTypeOf[T]().IsFloat() {
		return MulDense(a, b)
	}
	return Mul(a, b)
}

// AbsProduct returns |a|·|b| in float64, the magnitude that bounds the
// rounding error of each entry of a·b. The result is row-major.
func AbsProduct[T Element](a, b *Matrix[T]) (*Matrix[float64], error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("matrix: cannot multiply %dx%d by %dx%d", a.rows, a.cols, b.rows, b.cols)
	}
	out := New[float64](a.rows, b.cols, RowMajor)
	if a.Len() == 0 || b.Len() == 0 {
		return out, nil
	}
	abs := func(m *Matrix[T]) *mat.Dense {
		d := Dense(m)
		d.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, d)
		return d
	}
	var res mat.Dense
	res.Mul(abs(a), abs(b))
	for i := 0; i < a.rows; i++ {
		for j := 0; j < b.cols; j++ {
			out.data[i*b.cols+j] = res.At(i, j)
		}
	}
	return out, nil
}
