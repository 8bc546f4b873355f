package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxnlabs/fastmatrix/fixtures"
	"github.com/fxnlabs/fastmatrix/internal/config"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"fastmatrix", "--verbosity", "error"}, args...))
	return out.String(), err
}

func TestLoadConfigFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)
}

func TestJobFromConfig(t *testing.T) {
	b := config.Default().Benchmark
	b.DType = "float32"
	b.Tolerance = 1e-3
	job := jobFromConfig(b)

	assert.Equal(t, kernels.OpMultiply, job.Operation)
	assert.Equal(t, []kernels.Op{kernels.OpMultiplySimple, kernels.OpMultiply}, job.Variants)
	require.NotNil(t, job.Tolerance)
	assert.InDelta(t, 1e-3, job.Tolerance.Rel, 1e-12)
	assert.InDelta(t, 1e-5, job.Tolerance.Abs, 1e-12)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runApp(t, "init", "--path", path)
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, written)

	_, err = runApp(t, "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = runApp(t, "init", "--path", path, "--force")
	assert.NoError(t, err)

	// the template itself is a valid config
	_, err = config.LoadConfig(path)
	assert.NoError(t, err)
}

func TestInfoCommand(t *testing.T) {
	out, err := runApp(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulated GPU")
	assert.Contains(t, out, "Simulated CPU")
	assert.Contains(t, out, "multiply(dim, dim, dim, buffer, buffer, buffer)")
	assert.Contains(t, out, "fill(dim, dim, buffer, scalar)")
}

func TestBenchCommand(t *testing.T) {
	out, err := runApp(t, "bench", "--n", "32", "--k", "16", "--m", "48", "--seed", "3", "--json")
	require.NoError(t, err)

	var rep harness.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.Passed)
	assert.Equal(t, "32x16x48", rep.Shape)
	assert.Len(t, rep.Variants, 2)

	out, err = runApp(t, "bench", "--op", "addc", "--n", "4", "--m", "8", "--dtype", "float64")
	require.NoError(t, err)
	assert.Contains(t, out, "addc<float64>")
	assert.Contains(t, out, "Computation was correct")

	_, err = runApp(t, "bench", "--n", "20", "--k", "16", "--m", "16", "--variant", "multiply")
	assert.ErrorContains(t, err, "20x16x16")
}

func TestVerifyCommand(t *testing.T) {
	out, err := runApp(t, "verify")
	require.NoError(t, err)
	assert.NotContains(t, out, "FAIL")
	assert.Equal(t, 4*7, strings.Count(out, "PASS"))
	assert.Contains(t, out, "All kernels verified")
}

func TestServeOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Device.ComputeUnits = 2

	var srv *http.Server
	var runner server.Runner
	app := fxtest.New(t,
		serveOptions(cfg, zaptest.NewLogger(t)),
		fx.Populate(&srv, &runner),
	)
	app.RequireStart()
	defer app.RequireStop()

	_, ok := runner.(*harness.Harness)
	assert.True(t, ok)

	resp, err := http.Post("http://"+srv.Addr+"/run", "application/json",
		strings.NewReader(`{"operation":"multiply","dtype":"float32","n":16,"k":16,"m":16,"min":-1,"max":1,"seed":9}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body server.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body.Status)
	require.NotNil(t, body.Report)
	assert.True(t, body.Report.Passed)
}
