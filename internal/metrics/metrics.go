package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	EndpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "endpoint_duration_seconds",
		Help:    "Time spent serving endpoint requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// Driver metrics
	KernelDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_dispatch_duration_ms",
		Help:    "Device execution time of one kernel dispatch in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 18), // 50µs to ~6.5s
	}, []string{"kernel"})

	KernelGFLOPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kernel_gflops",
		Help: "Throughput of the last multiply dispatch in GFLOPS",
	}, []string{"kernel"})

	DeviceBuffersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_buffers_live",
		Help: "Device buffers currently allocated by the driver",
	})

	DeviceBytesAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_bytes_allocated_total",
		Help: "Total bytes of device memory allocated",
	})

	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_transfer_bytes_total",
		Help: "Total bytes moved between host and device",
	}, []string{"direction"})

	DriverFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_failures_total",
		Help: "Driver invocations aborted, by kernel and failure kind",
	}, []string{"kernel", "kind"})

	// Harness metrics
	HarnessVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_verdicts_total",
		Help: "Correctness verdicts reported by the harness",
	}, []string{"variant", "verdict"})

	HarnessMatrixSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harness_matrix_elements",
		Help: "Output element count of the last harness run",
	})
)
