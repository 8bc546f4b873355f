package harness

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

const (
	// DefaultReferenceLimit is the largest n·k·m checked against a full host
	// reference product. Larger products are checked with Freivalds' test.
	DefaultReferenceLimit = 1 << 27
	// DefaultFreivaldsRounds bounds the false-accept probability by 2^-8.
	DefaultFreivaldsRounds = 8
)

// Job describes one harness run. For multiply the operands are N×K and K×M;
// elementwise operations work on an N×M matrix.
type Job struct {
	Operation kernels.Op `json:"operation"`
	DType     string     `json:"dtype"`
	Order     string     `json:"order"`
	N         int        `json:"n"`
	K         int        `json:"k"`
	M         int        `json:"m"`
	// Min and Max bound random inputs. Constant, when set, replaces random
	// inputs by a matrix with every element equal to it.
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Constant *float64 `json:"constant,omitempty"`
	// Scalar is the addc constant or the fill value.
	Scalar      float64 `json:"scalar"`
	Repetitions int     `json:"repetitions"`
	Seed        int64   `json:"seed"`
	// Variants lists the multiply kernels to run. Both by default.
	Variants        []kernels.Op      `json:"variants,omitempty"`
	Tolerance       *matrix.Tolerance `json:"tolerance,omitempty"`
	ReferenceLimit  int64             `json:"referenceLimit"`
	FreivaldsRounds int               `json:"freivaldsRounds"`
	// Strict turns a failed verdict into a CorrectnessMismatch error.
	Strict bool `json:"strict"`
}

type resolved struct {
	Job
	dtype matrix.DType
	order matrix.Order
	tol   matrix.Tolerance
}

// resolve fills defaults and validates j. memLimit caps the host footprint
// of the job's operands in bytes; zero or less disables the cap.
func (j Job) resolve(memLimit int64) (resolved, error) {
	if j.Operation == "" {
		j.Operation = kernels.OpMultiply
	}
	if j.DType == "" {
		j.DType = matrix.Int32.String()
	}
	dt, err := matrix.ParseDType(j.DType)
	if err != nil {
		return resolved{}, err
	}
	if j.Order == "" {
		j.Order = matrix.RowMajor.String()
	}
	order, err := matrix.ParseOrder(j.Order)
	if err != nil {
		return resolved{}, err
	}

	switch j.Operation {
	case kernels.OpMultiply, kernels.OpMultiplySimple:
		if len(j.Variants) == 0 {
			if j.Operation == kernels.OpMultiplySimple {
				j.Variants = []kernels.Op{kernels.OpMultiplySimple}
			} else {
				j.Variants = []kernels.Op{kernels.OpMultiplySimple, kernels.OpMultiply}
			}
		}
		for _, v := range j.Variants {
			if v != kernels.OpMultiply && v != kernels.OpMultiplySimple {
				return resolved{}, fmt.Errorf("%q is not a multiply variant", v)
			}
		}
		j.Operation = kernels.OpMultiply
	case kernels.OpCopy, kernels.OpAddC, kernels.OpFill:
		j.Variants = []kernels.Op{j.Operation}
	default:
		return resolved{}, fmt.Errorf("unknown operation %q", j.Operation)
	}
	j.Variants = slices.Clone(j.Variants)

	if err := j.checkShape(dt, memLimit); err != nil {
		return resolved{}, err
	}

	if j.Min == 0 && j.Max == 0 {
		j.Min, j.Max = 1, 5
	}
	if j.Max < j.Min {
		return resolved{}, fmt.Errorf("input range [%v, %v] is empty", j.Min, j.Max)
	}
	values := []namedValue{{"min", j.Min}, {"max", j.Max}, {"scalar", j.Scalar}}
	if j.Constant != nil {
		values = append(values, namedValue{"constant", *j.Constant})
	}
	for _, val := range values {
		if !representable(dt, val.v) {
			return resolved{}, fmt.Errorf("%s %v is out of range for %s", val.name, val.v, dt)
		}
	}
	if j.Repetitions < 1 {
		j.Repetitions = 1
	}
	if j.Seed == 0 {
		j.Seed = time.Now().UnixNano()
	}
	if j.ReferenceLimit <= 0 {
		j.ReferenceLimit = DefaultReferenceLimit
	}
	if j.FreivaldsRounds <= 0 {
		j.FreivaldsRounds = DefaultFreivaldsRounds
	}
	tol := matrix.DefaultTolerance(dt)
	if j.Tolerance != nil && dt.IsFloat() {
		tol = *j.Tolerance
	}
	return resolved{Job: j, dtype: dt, order: order, tol: tol}, nil
}

// checkShape rejects non-positive dimensions and jobs whose operands and
// result would not fit in memLimit bytes.
func (j Job) checkShape(dt matrix.DType, memLimit int64) error {
	dims := []int{j.N, j.M}
	shape := fault.Shape(j.N, j.M)
	// Operands and result, in elements.
	elems := 2 * float64(j.N) * float64(j.M)
	if j.Operation == kernels.OpMultiply {
		dims = []int{j.N, j.K, j.M}
		shape = fault.Shape(j.N, j.K, j.M)
		elems = float64(j.N)*float64(j.K) + float64(j.K)*float64(j.M) + float64(j.N)*float64(j.M)
	}
	for _, d := range dims {
		if d <= 0 {
			return fault.New(fault.ShapeMismatch, string(j.Operation), shape, "dimensions must be positive", nil)
		}
	}
	if need := elems * float64(dt.Size()); memLimit > 0 && need > float64(memLimit) {
		return fmt.Errorf("%s %s needs %.0f bytes, more than the %d bytes of device memory", j.Operation, shape, need, memLimit)
	}
	return nil
}

type namedValue struct {
	name string
	v    float64
}

// representable reports whether v converts to dt without wrapping.
func representable(dt matrix.DType, v float64) bool {
	if math.IsNaN(v) {
		return dt.IsFloat()
	}
	switch dt {
	case matrix.Int32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case matrix.Int64:
		// 2^63 itself is not an int64.
		return v >= math.MinInt64 && v < -math.MinInt64
	case matrix.Float32:
		return math.IsInf(v, 0) || math.Abs(v) <= math.MaxFloat32
	default:
		return true
	}
}
