package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/engine"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/harness"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/metrics"
	"github.com/fxnlabs/fastmatrix/internal/partition"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func newTestMux(t *testing.T) (*http.ServeMux, device.Info) {
	t.Helper()
	log := zaptest.NewLogger(t)
	p := device.NewSimPlatform(device.SimConfig{ComputeUnits: 2}, log)
	s, err := device.Open(p, device.KindGPU, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	d := engine.FromSession(s, kernels.MustBuild(), partition.New(partition.DefaultGroupSize), log)
	return NewMux(NewJobHandler(harness.New(d, log), log), s.Info()), s.Info()
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body)))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestRunEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	testCases := []struct {
		name     string
		body     string
		code     int
		status   string
		kind     string
		validate func(*testing.T, *harness.Report)
	}{
		{
			name:   "multiply both variants",
			body:   `{"operation":"multiply","dtype":"int32","n":32,"k":16,"m":32,"min":1,"max":5,"seed":1}`,
			code:   http.StatusOK,
			status: "success",
			validate: func(t *testing.T, r *harness.Report) {
				assert.True(t, r.Passed)
				assert.Len(t, r.Variants, 2)
				require.NotNil(t, r.Agreement)
				assert.Equal(t, harness.Pass, r.Agreement.Verdict)
			},
		},
		{
			name:   "addc on constant input",
			body:   `{"operation":"addc","dtype":"float","n":4,"m":8,"constant":0,"scalar":1}`,
			code:   http.StatusOK,
			status: "success",
			validate: func(t *testing.T, r *harness.Report) {
				require.Len(t, r.Variants, 2)
				assert.Equal(t, 1.0, r.Variants[1].Min)
			},
		},
		{
			name:   "unaligned tiled multiply",
			body:   `{"operation":"multiply","n":17,"k":16,"m":16,"variants":["multiply"]}`,
			code:   http.StatusBadRequest,
			status: "error",
			kind:   "ShapeMismatch",
		},
		{
			name:   "unknown operation",
			body:   `{"operation":"transpose","n":2,"m":2}`,
			code:   http.StatusBadRequest,
			status: "error",
		},
		{
			name:   "unknown field",
			body:   `{"op":"copy"}`,
			code:   http.StatusBadRequest,
			status: "error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := post(t, mux, tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tc.status, resp.Status)
			assert.Equal(t, tc.kind, resp.Kind)
			if tc.validate != nil {
				require.NotNil(t, resp.Report)
				tc.validate(t, resp.Report)
			}
		})
	}
}

func TestRunEndpointCountsResponses(t *testing.T) {
	mux, _ := newTestMux(t)
	before := testutil.ToFloat64(metrics.EndpointResponses.WithLabelValues("/run", "200"))
	post(t, mux, `{"operation":"fill","n":2,"m":2,"scalar":3}`)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EndpointResponses.WithLabelValues("/run", "200")))
}

func TestRunEndpointMethod(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRunEndpointRejectsInvalidJobs(t *testing.T) {
	mux, _ := newTestMux(t)

	bad := []struct {
		name string
		body string
		kind string
	}{
		{"negative dimension", `{"operation":"multiply","n":-16,"k":16,"m":16}`, "ShapeMismatch"},
		{"zero dimension", `{"operation":"copy","n":0,"m":16}`, "ShapeMismatch"},
		{"larger than device memory", `{"operation":"multiply","n":1000000,"k":1000000,"m":16}`, ""},
		{"int32 range overflow", `{"operation":"copy","dtype":"int32","n":4,"m":4,"min":0,"max":3e9}`, ""},
		{"int64 scalar overflow", `{"operation":"addc","dtype":"int64","n":4,"m":4,"scalar":1e19}`, ""},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := post(t, mux, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tc.kind, resp.Kind)
			assert.Contains(t, resp.Error, "invalid job")
		})
	}

	rec, resp := post(t, mux, `{"operation":"multiply","n":16,"k":16,"m":16,"seed":4}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Report)
	assert.True(t, resp.Report.Passed)
}

type panickyRunner struct{ calls int }

func (p *panickyRunner) Run(harness.Job) (*harness.Report, error) {
	p.calls++
	if p.calls == 1 {
		panic("kernel crashed")
	}
	return &harness.Report{Operation: kernels.OpCopy, Passed: true}, nil
}

func TestJobHandlerUnlocksAfterPanic(t *testing.T) {
	h := NewJobHandler(&panickyRunner{}, zaptest.NewLogger(t))
	newReq := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"operation":"copy","n":2,"m":2}`))
	}

	assert.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), newReq()) })

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newReq())
		done <- rec.Code
	}()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("job handler still locked after a panicking run")
	}
}

type stubRunner struct {
	report *harness.Report
	err    error
}

func (s stubRunner) Run(harness.Job) (*harness.Report, error) { return s.report, s.err }

func TestJobHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		kind fault.Kind
		code int
	}{
		{fault.ShapeMismatch, http.StatusBadRequest},
		{fault.DeviceAllocationFailure, http.StatusInsufficientStorage},
		{fault.TransferFailure, http.StatusInternalServerError},
		{fault.DispatchFailure, http.StatusInternalServerError},
		{fault.CorrectnessMismatch, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			runner := stubRunner{
				report: &harness.Report{Operation: kernels.OpCopy},
				err:    fault.New(tt.kind, "copy<int32>", "2x2", "boom", nil),
			}
			h := NewJobHandler(runner, zaptest.NewLogger(t))
			rec, resp := post(t, h, `{"operation":"copy"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.kind.String(), resp.Kind)
			assert.Contains(t, resp.Error, "copy<int32> [2x2]")
			require.NotNil(t, resp.Report)
		})
	}
}

func TestDeviceEndpoint(t *testing.T) {
	mux, info := newTestMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/device", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got device.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, info, got)
}

func TestServerLifecycle(t *testing.T) {
	mux, _ := newTestMux(t)
	lc := fxtest.NewLifecycle(t)
	srv := New(lc, Config{ListenAddress: "127.0.0.1:0"}, mux, zaptest.NewLogger(t))
	lc.RequireStart()

	resp, err := http.Post("http://"+srv.Addr+"/run", "application/json",
		bytes.NewBufferString(`{"operation":"copy","dtype":"int64","n":3,"m":3,"min":-4,"max":4}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, err = http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "harness_verdicts_total")
	assert.Contains(t, string(body), "kernel_dispatch_duration_ms")

	lc.RequireStop()
	_, err = http.Get("http://" + srv.Addr + "/metrics")
	assert.Error(t, err)
}
