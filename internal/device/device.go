// Package device is the accelerator abstraction the execution driver runs on:
// devices, contexts, buffers, in-order command queues and kernel dispatch over
// a two-dimensional NDRange.
//
// The interfaces mirror the usual OpenCL object model. The package ships one
// implementation, a simulated accelerator that runs work-groups on goroutines
// (see sim.go).
package device

import (
	"fmt"
	"unsafe"

	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

// Kind selects a class of device.
type Kind string

const (
	KindGPU Kind = "gpu"
	KindCPU Kind = "cpu"
	KindAny Kind = "any"
)

// Info describes a device.
type Info struct {
	Name             string `json:"name"`
	Vendor           string `json:"vendor"`
	Kind             Kind   `json:"kind"`
	ComputeUnits     int    `json:"computeUnits"`
	MaxWorkGroupSize int    `json:"maxWorkGroupSize"`
	LocalMemSize     int64  `json:"localMemSize"`  // in bytes, per work-group
	GlobalMemSize    int64  `json:"globalMemSize"` // in bytes
	DriverVersion    string `json:"driverVersion"`
}

// Device is a compute device.
type Device interface {
	Info() Info
}

// Context owns device memory and queues for one device.
type Context interface {
	Device() Device
	// Allocate reserves exactly size bytes of device memory.
	Allocate(size int) (Buffer, error)
	NewQueue() (Queue, error)
	// Live returns the number of allocated, unreleased buffers.
	Live() int
	Release() error
}

// Buffer is an opaque device-resident allocation.
type Buffer interface {
	Size() int
	// Write enqueues a host->device copy of src at offset.
	Write(q Queue, offset int, src []byte) (*Event, error)
	// Read enqueues a device->host copy of the whole buffer into dst.
	Read(q Queue, dst []byte) (*Event, error)
	Release() error
}

// Queue is an in-order command queue.
type Queue interface {
	// Dispatch enqueues entry over r. Buffer arguments are bound as Global views.
	Dispatch(entry Entry, r NDRange, args ...any) (*Event, error)
	// Finish blocks until every command enqueued so far has completed.
	Finish() error
	Release() error
}

// Event tracks completion of one enqueued command.
type Event struct {
	done chan struct{}
	err  error
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

func (e *Event) complete(err error) {
	e.err = err
	close(e.done)
}

// Wait blocks until the command has completed and returns its error.
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

// NDRange is a two-dimensional iteration space. A zero Local lets the device
// choose the work-group size.
type NDRange struct {
	Global [2]int
	Local  [2]int
}

func (r NDRange) String() string {
	return fmt.Sprintf("global=%dx%d local=%dx%d", r.Global[0], r.Global[1], r.Local[0], r.Local[1])
}

// GroupSize is the number of work-items per group.
func (r NDRange) GroupSize() int {
	return r.Local[0] * r.Local[1]
}

// Entry is a compiled kernel entry point.
type Entry interface {
	Name() string
	// Bind checks args against the kernel signature and returns the launch.
	Bind(args []any) (Launch, error)
}

// Launch is a bound kernel ready to run over an NDRange.
type Launch struct {
	// Body runs once per work-item.
	Body func(*WorkItem)
	// Scratch allocates the per-group local memory. Nil when unused.
	Scratch      func() any
	ScratchBytes int
	// Barrier marks kernels whose body calls WorkItem.Barrier; their
	// work-items run concurrently within a group.
	Barrier bool
	// RequiredLocal, when non-zero, is the only work-group size the kernel
	// was written for.
	RequiredLocal [2]int
}

// Global is a kernel's view of a buffer argument.
type Global struct {
	mem []byte
}

// Slice reinterprets device memory as a slice of T.
func Slice[T matrix.Element](g Global) []T {
	if len(g.mem) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(g.mem))), len(g.mem)/int(unsafe.Sizeof(zero)))
}

// DefaultLocal picks the largest divisor of each global extent not exceeding
// 16, shrinking dimension 1 and then dimension 0 until the group fits maxGroup.
func DefaultLocal(global [2]int, maxGroup int) [2]int {
	var local [2]int
	for d := 0; d < 2; d++ {
		local[d] = 1
		for l := min(16, global[d]); l >= 1; l-- {
			if global[d]%l == 0 {
				local[d] = l
				break
			}
		}
	}
	for _, d := range [2]int{1, 0} {
		for maxGroup > 0 && local[0]*local[1] > maxGroup && local[d] > 1 {
			local[d] = nextDivisor(global[d], local[d]-1)
		}
	}
	return local
}

// nextDivisor returns the largest divisor of n that is at most l.
func nextDivisor(n, l int) int {
	for l > 1 && n%l != 0 {
		l--
	}
	return max(l, 1)
}
