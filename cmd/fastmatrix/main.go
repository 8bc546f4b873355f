package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fxnlabs/fastmatrix/internal/config"
	"github.com/fxnlabs/fastmatrix/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

func newApp() *cli.App {
	var configPath, verbosity string

	return &cli.App{
		Name:     "fastmatrix",
		Usage:    "Run and verify dense matrix kernels on a compute device",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Value:       defaultConfigPath,
				Usage:       "Path to the config file, defaults apply when the file is missing",
				EnvVars:     []string{"FASTMATRIX_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Override logger.verbosity",
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(configPath, c.IsSet("config"))
			if err != nil {
				return err
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			zapLogger, err := logger.Build(logger.Options{
				Verbosity: cfg.Logger.Verbosity,
				Format:    cfg.Logger.Format,
			})
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				_ = log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			benchCommand(),
			verifyCommand(),
			serveCommand(),
			infoCommand(),
			initCommand(),
		},
	}
}

// loadConfig reads path. A missing file yields the defaults unless the path
// was given explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return cfg, err
}

func fromContext(c *cli.Context) (*config.Config, *zap.Logger) {
	return c.App.Metadata["config"].(*config.Config), c.App.Metadata["logger"].(*zap.Logger)
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Error("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
