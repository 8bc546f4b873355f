package matrix

import "math"

// Tolerance bounds the accepted difference between two floating point values:
// |a-b| <= Abs or |a-b| <= Rel*max(|a|,|b|).
type Tolerance struct {
	Rel float64 `json:"rel" yaml:"rel"`
	Abs float64 `json:"abs" yaml:"abs"`
}

// Exact is the tolerance used for integer element types.
var Exact = Tolerance{}

// DefaultTolerance returns exact comparison for integers and a 1e-4 relative
// tolerance for floating types.
func DefaultTolerance(dt DType) Tolerance {
	switch dt {
	case Float32:
		return Tolerance{Rel: 1e-4, Abs: 1e-5}
	case Float64:
		return Tolerance{Rel: 1e-4, Abs: 1e-9}
	default:
		return Exact
	}
}

// Within reports whether a and b agree under t.
func (t Tolerance) Within(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	diff := math.Abs(a - b)
	if diff <= t.Abs {
		return true
	}
	return diff <= t.Rel*math.Max(math.Abs(a), math.Abs(b))
}

// Comparison summarises an elementwise comparison.
type Comparison struct {
	Equal      bool    `json:"equal"`
	Mismatches int     `json:"mismatches"`
	MaxAbsDiff float64 `json:"maxAbsDiff"`
	// FirstRow/FirstCol locate the first mismatch, -1 when there is none.
	FirstRow int `json:"firstRow"`
	FirstCol int `json:"firstCol"`
}

// Compare compares got against want by logical position. Integer types are
// always compared exactly regardless of tol.
func Compare[T Element](got, want *Matrix[T], tol Tolerance) Comparison {
	return compare(got, want, tol, nil)
}

// CompareProduct compares a computed product against its reference. Besides
// tol, an entry is accepted when |got-want| <= tol.Rel*scale[i,j], where
// scale is |A|·|B| from AbsProduct: the rounding error of an entry grows with
// that magnitude even when cancellation leaves the entry itself near zero.
func CompareProduct[T Element](got, want *Matrix[T], scale *Matrix[float64], tol Tolerance) Comparison {
	if scale == nil || scale.rows != want.rows || scale.cols != want.cols {
		return compare(got, want, tol, nil)
	}
	return compare(got, want, tol, func(i, j int) float64 { return tol.Rel * scale.At(i, j) })
}

func compare[T Element](got, want *Matrix[T], tol Tolerance, bound func(i, j int) float64) Comparison {
	c := Comparison{FirstRow: -1, FirstCol: -1}
	if got.rows != want.rows || got.cols != want.cols {
		c.Mismatches = max(got.Len(), want.Len())
		c.MaxAbsDiff = math.Inf(1)
		return c
	}
	if !DTypeOf[T]().IsFloat() {
		tol, bound = Exact, nil
	}
	for i := 0; i < got.rows; i++ {
		for j := 0; j < got.cols; j++ {
			a, b := float64(got.At(i, j)), float64(want.At(i, j))
			d := math.Abs(a - b)
			if d > c.MaxAbsDiff {
				c.MaxAbsDiff = d
			}
			if tol.Within(a, b) || (bound != nil && d <= bound(i, j)) {
				continue
			}
			if c.Mismatches == 0 {
				c.FirstRow, c.FirstCol = i, j
			}
			c.Mismatches++
		}
	}
	c.Equal = c.Mismatches == 0
	return c
}

// EqualWithin is Compare reduced to a verdict.
func EqualWithin[T Element](got, want *Matrix[T], tol Tolerance) bool {
	return Compare(got, want, tol).Equal
}
