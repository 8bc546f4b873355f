package harness

import (
	"math"
	"math/rand"
	"slices"

	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Freivalds probabilistically checks c == a·b by comparing a·(b·r) with c·r
// for random 0/1 vectors r. A wrong product passes a round with probability
// at most 1/2.
//
// Integer products are checked exactly in the element type's own wrapping
// arithmetic. Floating products are accepted when every entry differs by no
// more than tol.Rel·(|a|·(|b|·r)) + tol.Abs.
func Freivalds[T matrix.Element](a, b, c *matrix.Matrix[T], rounds int, tol matrix.Tolerance, rng *rand.Rand) bool {
	if a.Cols() != b.Rows() || c.Rows() != a.Rows() || c.Cols() != b.Cols() || c.Len() == 0 {
		return false
	}
	float := matrix.DTypeOf[T]().IsFloat()
	for round := 0; round < rounds; round++ {
		if float {
			r := make([]float64, c.Cols())
			for j := range r {
				r[j] = float64(rng.Intn(2))
			}
			abr := mulVecFloat(a, mulVecFloat(b, r, false), false)
			cr := mulVecFloat(c, r, false)
			scale := mulVecFloat(a, mulVecFloat(b, r, true), true)
			for i := range abr {
				if math.IsNaN(cr[i]) || math.Abs(abr[i]-cr[i]) > tol.Rel*scale[i]+tol.Abs {
					return false
				}
			}
			continue
		}
		r := make([]T, c.Cols())
		for j := range r {
			r[j] = T(rng.Intn(2))
		}
		if !slices.Equal(mulVec(a, mulVec(b, r)), mulVec(c, r)) {
			return false
		}
	}
	return true
}

func mulVec[T matrix.Element](m *matrix.Matrix[T], v []T) []T {
	out := make([]T, m.Rows())
	for i := range out {
		var sum T
		for j, x := range v {
			sum += m.At(i, j) * x
		}
		out[i] = sum
	}
	return out
}

func mulVecFloat[T matrix.Element](m *matrix.Matrix[T], v []float64, abs bool) []float64 {
	out := make([]float64, m.Rows())
	for i := range out {
		var sum float64
		for j, x := range v {
			e := float64(m.At(i, j))
			if abs {
				e = math.Abs(e)
			}
			sum += e * x
		}
		out[i] = sum
	}
	return out
}
