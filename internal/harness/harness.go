// Package harness drives kernel variants through the engine, times them and
// validates every device result against a host reference.
package harness

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/engine"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"github.com/fxnlabs/fastmatrix/internal/metrics"
	"go.uber.org/zap"
)

// Harness runs jobs on one driver. Runs are serialised by the caller.
type Harness struct {
	driver *engine.Driver
	logger *zap.Logger
	// memLimit rejects jobs whose matrices exceed the device's global memory
	// before any host memory is allocated for them.
	memLimit int64
}

func New(driver *engine.Driver, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{driver: driver, logger: logger.Named("harness"), memLimit: driver.Device().GlobalMemSize}
}

// Run executes job. Driver faults abort the run and are returned as is.
// A correctness failure is reported in the verdicts; it is returned as a
// CorrectnessMismatch error only when job.Strict is set.
func (h *Harness) Run(job Job) (*Report, error) {
	j, err := job.resolve(h.memLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	var rep *Report
	switch j.dtype {
	case matrix.Int32:
		rep, err = run[int32](h, j)
	case matrix.Int64:
		rep, err = run[int64](h, j)
	case matrix.Float32:
		rep, err = run[float32](h, j)
	default:
		rep, err = run[float64](h, j)
	}
	if err != nil {
		return nil, err
	}

	rep.Passed = rep.failures() == 0
	if !rep.Passed && j.Strict {
		return rep, fault.New(fault.CorrectnessMismatch, string(j.Operation), rep.Shape,
			fmt.Sprintf("%d verdicts failed", rep.failures()), nil)
	}
	return rep, nil
}

func run[T matrix.Element](h *Harness, j resolved) (*Report, error) {
	rng := rand.New(rand.NewSource(j.Seed))
	rep := &Report{
		Operation:   j.Operation,
		DType:       j.dtype.String(),
		Order:       j.order.String(),
		Seed:        j.Seed,
		Repetitions: j.Repetitions,
	}
	metrics.HarnessMatrixSize.Set(float64(j.N) * float64(j.M))
	if j.Operation == kernels.OpMultiply {
		rep.Shape = fault.Shape(j.N, j.K, j.M)
		return rep, multiply[T](h, j, rng, rep)
	}
	rep.Shape = fault.Shape(j.N, j.M)
	return rep, elementwise[T](h, j, rng, rep)
}

func input[T matrix.Element](j resolved, rows, cols int, rng *rand.Rand) *matrix.Matrix[T] {
	if j.Constant != nil {
		return matrix.Const[T](rows, cols, j.order, T(*j.Constant))
	}
	return matrix.Rand[T](rows, cols, j.order, T(j.Min), T(j.Max), rng)
}

func multiply[T matrix.Element](h *Harness, j resolved, rng *rand.Rand, rep *Report) error {
	a := input[T](j, j.N, j.K, rng)
	b := input[T](j, j.K, j.M, rng)

	var ref *matrix.Matrix[T]
	// scale is |A|·|B|, the per-entry error magnitude for floating products.
	var scale *matrix.Matrix[float64]
	if int64(j.N)*int64(j.K)*int64(j.M) <= j.ReferenceLimit {
		start := time.Now()
		var err error
		if ref, err = matrix.Reference(a, b); err != nil {
			return fault.New(fault.ShapeMismatch, "reference", rep.Shape, "", err)
		}
		if j.dtype.IsFloat() {
			if scale, err = matrix.AbsProduct(a, b); err != nil {
				return fault.New(fault.ShapeMismatch, "reference", rep.Shape, "", err)
			}
		}
		h.logger.Debug("host reference computed", zap.String("shape", rep.Shape), zap.Duration("elapsed", time.Since(start)))
	}

	results := make(map[kernels.Op]*matrix.Matrix[T], len(j.Variants))
	for _, op := range j.Variants {
		out, t, err := engine.Multiply(h.driver, op, a, b, j.Repetitions)
		if err != nil {
			return err
		}
		results[op] = out

		v := newVariant(op, j.dtype, out, t)
		v.GFLOPS = GFLOPS(j.N, j.K, j.M, t.Kernel)
		metrics.KernelGFLOPS.WithLabelValues(v.Kernel).Set(v.GFLOPS)
		if ref != nil {
			v.compare(matrix.CompareProduct(out, ref, scale, j.tol), j.dtype)
		} else {
			v.Check = CheckFreivalds
			v.Verdict = verdictOf(Freivalds(a, b, out, j.FreivaldsRounds, j.tol, rng))
		}
		h.record(rep, v)
	}

	naive, okNaive := results[kernels.OpMultiplySimple]
	tiled, okTiled := results[kernels.OpMultiply]
	if okNaive && okTiled {
		c := matrix.CompareProduct(tiled, naive, scale, j.tol)
		rep.Agreement = &Agreement{
			Variants:   [2]kernels.Op{kernels.OpMultiplySimple, kernels.OpMultiply},
			Verdict:    verdictOf(c.Equal),
			Mismatches: c.Mismatches,
			MaxAbsDiff: c.MaxAbsDiff,
		}
		metrics.HarnessVerdicts.WithLabelValues("agreement", string(rep.Agreement.Verdict)).Inc()
		h.logger.Info("variants compared",
			zap.String("shape", rep.Shape),
			zap.String("verdict", string(rep.Agreement.Verdict)),
			zap.Float64("max_abs_diff", c.MaxAbsDiff))
	}
	return nil
}

func elementwise[T matrix.Element](h *Harness, j resolved, rng *rand.Rand, rep *Report) error {
	op := j.Operation
	rows, cols := j.N, j.M
	scalar := T(j.Scalar)

	// Constant inputs are produced on the device and checked on their own.
	var src *matrix.Matrix[T]
	if op != kernels.OpFill {
		if j.Constant != nil {
			c := T(*j.Constant)
			filled, t, err := engine.Fill(h.driver, rows, cols, j.order, c)
			if err != nil {
				return err
			}
			v := newVariant(kernels.OpFill, j.dtype, filled, t)
			v.compare(matrix.Compare(filled, matrix.Const[T](rows, cols, j.order, c), j.tol), j.dtype)
			h.record(rep, v)
			src = filled
		} else {
			src = input[T](j, rows, cols, rng)
		}
	}

	var (
		out  *matrix.Matrix[T]
		want *matrix.Matrix[T]
		sum  engine.Timing
	)
	for rep := 0; rep < j.Repetitions; rep++ {
		var (
			t   engine.Timing
			err error
		)
		switch op {
		case kernels.OpCopy:
			out, t, err = engine.Copy(h.driver, src)
		case kernels.OpAddC:
			out, t, err = engine.AddC(h.driver, src, scalar)
		default:
			out, t, err = engine.Fill(h.driver, rows, cols, j.order, scalar)
		}
		if err != nil {
			return err
		}
		sum.Upload += t.Upload
		sum.Kernel += t.Kernel
		sum.Download += t.Download
	}
	n := time.Duration(j.Repetitions)
	mean := engine.Timing{Upload: sum.Upload / n, Kernel: sum.Kernel / n, Download: sum.Download / n, Repeat: j.Repetitions}

	switch op {
	case kernels.OpCopy:
		want = src
	case kernels.OpAddC:
		want = src.AddScalar(scalar)
	default:
		want = matrix.Const[T](rows, cols, j.order, scalar)
	}
	v := newVariant(op, j.dtype, out, mean)
	v.compare(matrix.Compare(out, want, j.tol), j.dtype)
	h.record(rep, v)
	return nil
}

func newVariant[T matrix.Element](op kernels.Op, dt matrix.DType, out *matrix.Matrix[T], t engine.Timing) Variant {
	return Variant{
		Variant: op,
		Kernel:  kernels.EntryName(op, dt),
		Min:     float64(out.Min()),
		Elapsed: t.Kernel,
		Timing:  t,
		Digest:  Digest(out),
	}
}

func (v *Variant) compare(c matrix.Comparison, dt matrix.DType) {
	v.Check = CheckExact
	if dt.IsFloat() {
		v.Check = CheckTolerance
	}
	v.Verdict = verdictOf(c.Equal)
	v.Mismatches = c.Mismatches
	v.MaxAbsDiff = c.MaxAbsDiff
}

func (h *Harness) record(rep *Report, v Variant) {
	rep.Variants = append(rep.Variants, v)
	metrics.HarnessVerdicts.WithLabelValues(string(v.Variant), string(v.Verdict)).Inc()

	fields := []zap.Field{
		zap.String("kernel", v.Kernel),
		zap.String("shape", rep.Shape),
		zap.Float64("min", v.Min),
		zap.Duration("elapsed", v.Elapsed),
		zap.String("check", string(v.Check)),
		zap.String("verdict", string(v.Verdict)),
		zap.String("digest", v.Digest),
	}
	if v.GFLOPS > 0 {
		fields = append(fields, zap.Float64("gflops", v.GFLOPS))
	}
	if v.Verdict != Pass {
		h.logger.Warn("result mismatch", append(fields, zap.Int("mismatches", v.Mismatches), zap.Float64("max_abs_diff", v.MaxAbsDiff))...)
		return
	}
	h.logger.Info("variant completed", fields...)
}
