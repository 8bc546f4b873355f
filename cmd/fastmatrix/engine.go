package main

import (
	"github.com/fxnlabs/fastmatrix/internal/config"
	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/engine"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"github.com/fxnlabs/fastmatrix/internal/partition"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func newPlatform(cfg *config.Config, log *zap.Logger) *device.Platform {
	return device.NewSimPlatform(device.SimConfig{
		ComputeUnits:     cfg.Device.ComputeUnits,
		MaxWorkGroupSize: cfg.Device.MaxWorkGroupSize,
		LocalMemSize:     cfg.Device.LocalMemSize,
		MemoryLimit:      cfg.Device.MemoryLimit,
	}, log)
}

func openSession(cfg *config.Config, p *device.Platform, log *zap.Logger) (*device.Session, error) {
	return device.Open(p, device.Kind(cfg.Device.Kind), log)
}

func newPartitioner(cfg *config.Config) partition.Partitioner {
	return partition.New(cfg.Kernels.GroupSize)
}

// openHarness opens a device session and builds the harness on it. The
// caller closes the session.
func openHarness(cfg *config.Config, log *zap.Logger) (*device.Session, *harness.Harness, error) {
	s, err := openSession(cfg, newPlatform(cfg, log), log)
	if err != nil {
		return nil, nil, err
	}
	program, err := kernels.Build()
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	d := engine.FromSession(s, program, newPartitioner(cfg), log)
	return s, harness.New(d, log), nil
}

func jobFromConfig(b config.Benchmark) harness.Job {
	job := harness.Job{
		Operation:       kernels.Op(b.Operation),
		DType:           b.DType,
		Order:           b.Order,
		N:               b.N,
		K:               b.K,
		M:               b.M,
		Min:             b.Min,
		Max:             b.Max,
		Scalar:          b.Scalar,
		Repetitions:     b.Repetitions,
		Seed:            b.Seed,
		Variants:        lo.Map(b.Variants, func(v string, _ int) kernels.Op { return kernels.Op(v) }),
		ReferenceLimit:  b.ReferenceLimit,
		FreivaldsRounds: b.FreivaldsRounds,
	}
	if b.Tolerance > 0 {
		if dt, err := matrix.ParseDType(b.DType); err == nil {
			tol := matrix.DefaultTolerance(dt)
			tol.Rel = b.Tolerance
			job.Tolerance = &tol
		}
	}
	return job
}
