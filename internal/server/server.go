// Package server exposes the harness over HTTP: POST /run executes a job and
// returns its report, GET /metrics serves the Prometheus registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runner executes harness jobs.
type Runner interface {
	Run(job harness.Job) (*harness.Report, error)
}

// Response is the body of every /run reply.
type Response struct {
	Status string          `json:"status"`
	Report *harness.Report `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// JobHandler runs one job per request. Jobs share one device queue, so
// requests are served one at a time.
type JobHandler struct {
	runner Runner
	log    *zap.Logger
	mu     sync.Mutex
}

func NewJobHandler(runner Runner, log *zap.Logger) *JobHandler {
	return &JobHandler{runner: runner, log: log.Named("server")}
}

func (h *JobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job harness.Job
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		h.log.Warn("invalid job body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "Invalid request body: " + err.Error()})
		return
	}

	start := time.Now()
	report, err := h.run(job)

	if err != nil {
		kind := fault.KindOf(err)
		h.log.Error("job failed", zap.String("operation", string(job.Operation)), zap.Error(err))
		resp := Response{Status: "error", Report: report, Error: err.Error()}
		if kind != 0 {
			resp.Kind = kind.String()
		}
		writeJSON(w, statusFor(kind), resp)
		return
	}

	h.log.Info("job completed",
		zap.String("operation", string(report.Operation)),
		zap.String("shape", report.Shape),
		zap.Bool("passed", report.Passed),
		zap.Duration("elapsed", time.Since(start)))
	writeJSON(w, http.StatusOK, Response{Status: "success", Report: report})
}

// run serialises jobs on the single device session.
func (h *JobHandler) run(job harness.Job) (*harness.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runner.Run(job)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case 0, fault.ShapeMismatch:
		return http.StatusBadRequest
	case fault.CorrectnessMismatch:
		return http.StatusUnprocessableEntity
	case fault.DeviceAllocationFailure:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewMux routes /run, /device and /metrics.
func NewMux(jobs *JobHandler, info device.Info) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/run", metrics.Middleware(jobs, "/run"))
	mux.Handle("/device", metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}), "/device"))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Config holds the listener settings.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// New returns an http.Server that starts listening when lc starts and shuts
// down gracefully when it stops.
func New(lc fx.Lifecycle, cfg Config, handler http.Handler, log *zap.Logger) *http.Server {
	log = log.Named("server")
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			srv.Addr = ln.Addr().String()
			log.Info("Starting server on", zap.String("address", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping server")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
