// Package matrix is the host-side dense matrix container used to stage data
// to and from the device.
package matrix

import (
	"fmt"
	"math"
	"math/rand"
	"unsafe"
)

// Host is the untyped view of a matrix that device transfers operate on.
type Host interface {
	Rows() int
	Cols() int
	Order() Order
	DType() DType
	// Bytes aliases the matrix storage; writes through it are visible in the matrix.
	Bytes() []byte
}

// Matrix is a rows×cols matrix stored in a fixed order.
type Matrix[T Element] struct {
	rows, cols int
	order      Order
	data       []T
}

// New returns a zeroed matrix.
func New[T Element](rows, cols int, order Order) *Matrix[T] {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("matrix: negative dimensions %dx%d", rows, cols))
	}
	return &Matrix[T]{rows: rows, cols: cols, order: order, data: make([]T, rows*cols)}
}

// FromSlice wraps data, which must already be laid out in the given order.
func FromSlice[T Element](rows, cols int, order Order, data []T) (*Matrix[T], error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("matrix: %d elements do not fill a %dx%d matrix", len(data), rows, cols)
	}
	return &Matrix[T]{rows: rows, cols: cols, order: order, data: data}, nil
}

// Const returns a matrix with every element set to v.
func Const[T Element](rows, cols int, order Order, v T) *Matrix[T] {
	m := New[T](rows, cols, order)
	for i := range m.data {
		m.data[i] = v
	}
	return m
}

// Rand fills a matrix uniformly from [lo, hi] for integer types and
// [lo, hi) for floating types. lo must not exceed hi.
func Rand[T Element](rows, cols int, order Order, lo, hi T, rng *rand.Rand) *Matrix[T] {
	m := New[T](rows, cols, order)
	if DTypeOf[T]().IsFloat() {
		span := float64(hi) - float64(lo)
		for i := range m.data {
			m.data[i] = T(float64(lo) + rng.Float64()*span)
		}
		return m
	}
	// Two's complement keeps the span exact even when it overflows int64.
	span := uint64(int64(hi)-int64(lo)) + 1
	for i := range m.data {
		var off uint64
		switch {
		case span == 0:
			off = rng.Uint64()
		case span <= math.MaxInt64:
			off = uint64(rng.Int63n(int64(span)))
		default:
			off = rng.Uint64() % span
		}
		m.data[i] = T(int64(lo) + int64(off))
	}
	return m
}

func (m *Matrix[T]) Rows() int    { return m.rows }
func (m *Matrix[T]) Cols() int    { return m.cols }
func (m *Matrix[T]) Order() Order { return m.order }
func (m *Matrix[T]) Len() int     { return len(m.data) }
func (m *Matrix[T]) DType() DType { return DTypeOf[T]() }

// Data returns the backing slice in storage order.
func (m *Matrix[T]) Data() []T { return m.data }

// Bytes returns the storage as raw bytes without copying.
func (m *Matrix[T]) Bytes() []byte {
	if len(m.data) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(m.data))), len(m.data)*int(unsafe.Sizeof(zero)))
}

func (m *Matrix[T]) index(i, j int) int {
	if m.order == ColMajor {
		return i + j*m.rows
	}
	return i*m.cols + j
}

// At returns element (i, j).
func (m *Matrix[T]) At(i, j int) T {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("matrix: index (%d,%d) out of range %dx%d", i, j, m.rows, m.cols))
	}
	return m.data[m.index(i, j)]
}

// Set assigns element (i, j).
func (m *Matrix[T]) Set(i, j int, v T) {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("matrix: index (%d,%d) out of range %dx%d", i, j, m.rows, m.cols))
	}
	m.data[m.index(i, j)] = v
}

// Clone returns a deep copy.
func (m *Matrix[T]) Clone() *Matrix[T] {
	c := New[T](m.rows, m.cols, m.order)
	copy(c.data, m.data)
	return c
}

// WithOrder returns m if it is already stored in o, otherwise a re-laid-out copy.
func (m *Matrix[T]) WithOrder(o Order) *Matrix[T] {
	if m.order == o {
		return m
	}
	c := New[T](m.rows, m.cols, o)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			c.data[c.index(i, j)] = m.data[m.index(i, j)]
		}
	}
	return c
}

// Add returns m + o elementwise. The result keeps m's storage order.
func (m *Matrix[T]) Add(o *Matrix[T]) (*Matrix[T], error) {
	if m.rows != o.rows || m.cols != o.cols {
		return nil, fmt.Errorf("matrix: cannot add %dx%d and %dx%d", m.rows, m.cols, o.rows, o.cols)
	}
	r := m.Clone()
	if m.order == o.order {
		for i := range r.data {
			r.data[i] += o.data[i]
		}
		return r, nil
	}
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			r.data[r.index(i, j)] += o.At(i, j)
		}
	}
	return r, nil
}

// AddScalar returns m + c elementwise.
func (m *Matrix[T]) AddScalar(c T) *Matrix[T] {
	r := m.Clone()
	for i := range r.data {
		r.data[i] += c
	}
	return r
}

// Min returns the smallest element. It panics on an empty matrix.
func (m *Matrix[T]) Min() T {
	if len(m.data) == 0 {
		panic("matrix: Min of empty matrix")
	}
	lo := m.data[0]
	for _, v := range m.data[1:] {
		if v < lo {
			lo = v
		}
	}
	return lo
}

// Equal reports exact elementwise equality by logical position.
func (m *Matrix[T]) Equal(o *Matrix[T]) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	if m.order == o.order {
		for i := range m.data {
			if m.data[i] != o.data[i] {
				return false
			}
		}
		return true
	}
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			if m.At(i, j) != o.At(i, j) {
				return false
			}
		}
	}
	return true
}

func (m *Matrix[T]) String() string {
	return fmt.Sprintf("Matrix[%s](%dx%d, %s)", m.DType(), m.rows, m.cols, m.order)
}
