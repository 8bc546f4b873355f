package main

import (
	"context"
	"net/http"

	"github.com/fxnlabs/fastmatrix/internal/config"
	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/engine"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/partition"
	"github.com/fxnlabs/fastmatrix/internal/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// serveOptions wires the HTTP service. The device session lives as long as
// the fx application.
func serveOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newPlatform,
			func(lc fx.Lifecycle, cfg *config.Config, p *device.Platform, log *zap.Logger) (*device.Session, error) {
				s, err := openSession(cfg, p, log)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{OnStop: func(context.Context) error { return s.Close() }})
				return s, nil
			},
			func() (*kernels.Program, error) { return kernels.Build() },
			newPartitioner,
			func(s *device.Session, p *kernels.Program, part partition.Partitioner, log *zap.Logger) *engine.Driver {
				return engine.FromSession(s, p, part, log)
			},
			fx.Annotate(harness.New, fx.As(new(server.Runner))),
			server.NewJobHandler,
			func(s *device.Session, jobs *server.JobHandler) http.Handler {
				return server.NewMux(jobs, s.Info())
			},
			func(cfg *config.Config) server.Config {
				return server.Config{
					ListenAddress: cfg.Server.ListenAddress,
					ReadTimeout:   cfg.Server.ReadTimeout,
					WriteTimeout:  cfg.Server.WriteTimeout,
				}
			},
			server.New,
		),
	)
}
