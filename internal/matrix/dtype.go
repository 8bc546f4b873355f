package matrix

import (
	"fmt"
	"strings"
)

// DType enumerates the element types the engine compiles kernels for.
type DType int

const (
	Int32 DType = iota
	Int64
	Float32
	Float64
)

// DTypes lists every supported element type.
var DTypes = []DType{Int32, Int64, Float32, Float64}

func (dt DType) String() string {
	switch dt {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Size returns the byte width of one element.
func (dt DType) Size() int {
	switch dt {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether results of this type need tolerance-based comparison.
func (dt DType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// ParseDType parses names such as "int32" or "float".
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "int":
		return Int32, nil
	case "int64", "long":
		return Int64, nil
	case "float32", "float", "single":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unsupported element type %q", s)
	}
}

// Element is the closed set of Go types backing a DType.
type Element interface {
	int32 | int64 | float32 | float64
}

// DTypeOf maps a Go element type onto its DType.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	default:
		return Float64
	}
}

// Order is the storage order of a matrix.
type Order int

const (
	RowMajor Order = iota
	ColMajor
)

func (o Order) String() string {
	if o == ColMajor {
		return "column-major"
	}
	return "row-major"
}

// ParseOrder accepts "row", "row-major", "col", "column-major".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "row", "row-major", "rowmajor":
		return RowMajor, nil
	case "col", "column", "col-major", "column-major", "colmajor":
		return ColMajor, nil
	default:
		return 0, fmt.Errorf("unknown storage order %q", s)
	}
}
