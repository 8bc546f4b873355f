package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Options selects the level, encoding and destination of a logger.
type Options struct {
	// Verbosity is a zap level name; empty means info.
	Verbosity string
	// Format is "json" (default) or "console".
	Format string
	// OutputPaths defaults to stderr so that command output on stdout stays
	// machine readable.
	OutputPaths []string
}

func New(verbosity string) (*zap.Logger, error) {
	return Build(Options{Verbosity: verbosity})
}

func Build(o Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(o.Verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level

	switch o.Format {
	case "", "json":
	case "console":
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", o.Format)
	}
	if len(o.OutputPaths) > 0 {
		config.OutputPaths = o.OutputPaths
	}
	return config.Build(zap.Fields(zap.String("service", "fastmatrix")))
}
