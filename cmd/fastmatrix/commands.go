package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/fastmatrix/fixtures"
	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Run the configured benchmark and report timing and verdicts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "op", Usage: "multiply, copy, addc or fill"},
			&cli.IntFlag{Name: "n", Usage: "rows of the result"},
			&cli.IntFlag{Name: "k", Usage: "inner dimension of a multiply"},
			&cli.IntFlag{Name: "m", Usage: "columns of the result"},
			&cli.StringFlag{Name: "dtype", Usage: "int32, int64, float32 or float64"},
			&cli.StringFlag{Name: "order", Usage: "row-major or column-major"},
			&cli.IntFlag{Name: "repetitions", Aliases: []string{"r"}, Usage: "kernel dispatches averaged per variant"},
			&cli.Int64Flag{Name: "seed", Usage: "random input seed"},
			&cli.StringSliceFlag{Name: "variant", Usage: "multiply variant to run, repeatable"},
			&cli.BoolFlag{Name: "strict", Usage: "fail when any verdict fails"},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, log := fromContext(c)
			b := &cfg.Benchmark
			if c.IsSet("op") {
				b.Operation = c.String("op")
			}
			if c.IsSet("n") {
				b.N = c.Int("n")
			}
			if c.IsSet("k") {
				b.K = c.Int("k")
			}
			if c.IsSet("m") {
				b.M = c.Int("m")
			}
			if c.IsSet("dtype") {
				b.DType = c.String("dtype")
			}
			if c.IsSet("order") {
				b.Order = c.String("order")
			}
			if c.IsSet("repetitions") {
				b.Repetitions = c.Int("repetitions")
			}
			if c.IsSet("seed") {
				b.Seed = c.Int64("seed")
			}
			if c.IsSet("variant") {
				b.Variants = c.StringSlice("variant")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			s, h, err := openHarness(cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()

			job := jobFromConfig(*b)
			job.Strict = c.Bool("strict")
			rep, err := h.Run(job)
			if rep != nil {
				if perr := printReport(c.App.Writer, rep, c.Bool("json")); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

// verifySuite is the fixed correctness suite run for every element type.
func verifySuite(dt matrix.DType, seed int64) []harness.Job {
	zero := 0.0
	lo, hi := 1.0, 5.0
	if dt.IsFloat() {
		lo, hi = -1, 1
	}
	return []harness.Job{
		{Operation: kernels.OpMultiply, DType: dt.String(), N: 32, K: 32, M: 32, Min: lo, Max: hi, Seed: seed, Repetitions: 2},
		{Operation: kernels.OpMultiply, DType: dt.String(), Order: "column-major", N: 48, K: 16, M: 64, Min: lo, Max: hi, Seed: seed},
		{Operation: kernels.OpMultiply, DType: dt.String(), N: 64, K: 32, M: 16, Min: lo, Max: hi, Seed: seed, ReferenceLimit: 1},
		{Operation: kernels.OpAddC, DType: dt.String(), N: 4, M: 8, Constant: &zero, Scalar: 1},
		{Operation: kernels.OpAddC, DType: dt.String(), N: 37, M: 21, Min: lo, Max: hi, Seed: seed, Scalar: -3},
		{Operation: kernels.OpCopy, DType: dt.String(), Order: "column-major", N: 19, M: 45, Min: lo, Max: hi, Seed: seed},
		{Operation: kernels.OpFill, DType: dt.String(), N: 5, M: 9, Scalar: 7},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check every kernel and element type against the host reference",
		Action: func(c *cli.Context) error {
			cfg, log := fromContext(c)
			s, h, err := openHarness(cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()

			failed := 0
			for _, dt := range matrix.DTypes {
				for _, job := range verifySuite(dt, cfg.Benchmark.Seed) {
					rep, err := h.Run(job)
					if err != nil {
						return err
					}
					verdict := "PASS"
					if !rep.Passed {
						verdict = "FAIL"
						failed++
					}
					fmt.Fprintf(c.App.Writer, "%-4s %-8s %-16s %s\n", verdict, rep.DType, rep.Operation, rep.Shape)
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d verification job(s) failed", failed), 1)
			}
			fmt.Fprintln(c.App.Writer, "All kernels verified")
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve POST /run and GET /metrics",
		Action: func(c *cli.Context) error {
			cfg, log := fromContext(c)
			app := fx.New(
				serveOptions(cfg, log),
				fx.Invoke(func(*http.Server) {}),
			)
			app.Run()
			return app.Err()
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the available devices and kernels",
		Action: func(c *cli.Context) error {
			cfg, log := fromContext(c)
			w := c.App.Writer

			fmt.Fprintln(w, figure.NewFigure("fastmatrix", "", true).String())
			fmt.Fprintln(w, "Devices:")
			for i, d := range newPlatform(cfg, log).Devices(device.KindAny) {
				info := d.Info()
				fmt.Fprintf(w, "   %d: %s [%s] vendor=%s units=%d maxGroup=%d local=%dB global=%dB driver=%s\n",
					i, info.Name, info.Kind, info.Vendor, info.ComputeUnits, info.MaxWorkGroupSize,
					info.LocalMemSize, info.GlobalMemSize, info.DriverVersion)
			}
			fmt.Fprintln(w, "Kernels:")
			for _, src := range kernels.Sources() {
				fmt.Fprintf(w, "   %s\n      %s\n", src.Signature(), src.Doc)
			}
			fmt.Fprintf(w, "Element types: %v\n", matrix.DTypes)
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Value: defaultConfigPath, Usage: "Where to write the config"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
		},
		Action: func(c *cli.Context) error {
			_, log := fromContext(c)
			path := c.String("path")
			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			log.Info("Config written", zap.String("path", path))
			return nil
		},
	}
}
