// Package engine is the device execution driver: it owns the device buffers
// of one kernel invocation, stages host matrices in, dispatches the kernel
// over the partitioned work, waits for completion and stages the result out.
package engine

import (
	"fmt"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/device"
	"github.com/fxnlabs/fastmatrix/internal/fault"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"github.com/fxnlabs/fastmatrix/internal/metrics"
	"github.com/fxnlabs/fastmatrix/internal/partition"
	"go.uber.org/zap"
)

// Invocation is one kernel call. Kernel arguments are laid out as
// Dims..., output buffer, input buffers..., Scalars...
type Invocation struct {
	Kernel  *kernels.Handle
	Work    partition.WorkDescriptor
	Dims    []int
	Inputs  []matrix.Host
	Output  matrix.Host
	Scalars []any
	// Repeat dispatches the kernel this many times between staging in and
	// out. Values below 1 mean once.
	Repeat int
	// Shape labels errors, e.g. "32x32x32".
	Shape string
}

// Timing splits an invocation's wall time by stage. Kernel is the mean over
// all repetitions.
type Timing struct {
	Upload   time.Duration `json:"upload"`
	Kernel   time.Duration `json:"kernel"`
	Download time.Duration `json:"download"`
	Repeat   int           `json:"repeat"`
}

// Driver executes invocations on one context and queue. Calls are synchronous
// and must not be made concurrently on the same Driver.
type Driver struct {
	ctx     device.Context
	queue   device.Queue
	program *kernels.Program
	part    partition.Partitioner
	logger  *zap.Logger
}

// NewDriver returns a driver using ctx and queue. The program is shared
// read-only between drivers.
func NewDriver(ctx device.Context, queue device.Queue, program *kernels.Program, part partition.Partitioner, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{ctx: ctx, queue: queue, program: program, part: part, logger: logger.Named("engine")}
}

// FromSession builds a driver on an open device session.
func FromSession(s *device.Session, program *kernels.Program, part partition.Partitioner, logger *zap.Logger) *Driver {
	return NewDriver(s.Context(), s.Queue(), program, part, logger)
}

func (d *Driver) Program() *kernels.Program          { return d.program }
func (d *Driver) Partitioner() partition.Partitioner { return d.part }
func (d *Driver) Device() device.Info                { return d.ctx.Device().Info() }

// Execute runs inv. Every buffer it allocates is released before it returns,
// whether or not the invocation succeeded.
func (d *Driver) Execute(inv Invocation) (t Timing, err error) {
	name := inv.Kernel.Name()
	log := d.logger.With(zap.String("kernel", name), zap.String("shape", inv.Shape))
	defer func() {
		if err != nil {
			metrics.DriverFailures.WithLabelValues(name, fault.KindOf(err).String()).Inc()
			log.Error("invocation failed", zap.Error(err))
		}
	}()

	if err := d.checkTypes(inv); err != nil {
		return t, err
	}

	var bufs []device.Buffer
	defer func() {
		for _, b := range bufs {
			if rerr := b.Release(); rerr != nil {
				log.Warn("failed to release device buffer", zap.Error(rerr))
			}
		}
		metrics.DeviceBuffersLive.Set(float64(d.ctx.Live()))
	}()

	// 1. one buffer per output and input, sized to its matrix.
	alloc := func(role string, h matrix.Host) (device.Buffer, error) {
		size := len(h.Bytes())
		b, err := d.ctx.Allocate(size)
		if err != nil {
			return nil, fault.Annotate(err, fault.DeviceAllocationFailure, name, inv.Shape)
		}
		bufs = append(bufs, b)
		metrics.DeviceBytesAllocated.Add(float64(size))
		log.Debug("buffer allocated", zap.String("role", role), zap.Int("bytes", size))
		return b, nil
	}
	out, err := alloc("output", inv.Output)
	if err != nil {
		return t, err
	}
	ins := make([]device.Buffer, len(inv.Inputs))
	for i, h := range inv.Inputs {
		if ins[i], err = alloc(fmt.Sprintf("input%d", i), h); err != nil {
			return t, err
		}
	}
	metrics.DeviceBuffersLive.Set(float64(d.ctx.Live()))

	// 2. stage inputs and wait for every write.
	start := time.Now()
	for i, h := range inv.Inputs {
		ev, err := ins[i].Write(d.queue, 0, h.Bytes())
		if err == nil {
			err = ev.Wait()
		}
		if err != nil {
			return t, fault.Annotate(err, fault.TransferFailure, name, inv.Shape)
		}
		metrics.TransferBytes.WithLabelValues("to_device").Add(float64(len(h.Bytes())))
	}
	t.Upload = time.Since(start)

	// 3-4. dispatch, then block until the queue drains.
	args := make([]any, 0, len(inv.Dims)+1+len(ins)+len(inv.Scalars))
	for _, v := range inv.Dims {
		args = append(args, v)
	}
	args = append(args, out)
	for _, b := range ins {
		args = append(args, b)
	}
	args = append(args, inv.Scalars...)

	t.Repeat = max(inv.Repeat, 1)
	nd := inv.Work.NDRange()
	start = time.Now()
	for i := 0; i < t.Repeat; i++ {
		ev, err := d.queue.Dispatch(inv.Kernel, nd, args...)
		if err != nil {
			return t, fault.Annotate(err, fault.DispatchFailure, name, inv.Shape)
		}
		if err := d.queue.Finish(); err != nil {
			return t, fault.Annotate(err, fault.DispatchFailure, name, inv.Shape)
		}
		if err := ev.Wait(); err != nil {
			return t, fault.Annotate(err, fault.DispatchFailure, name, inv.Shape)
		}
	}
	total := time.Since(start)
	t.Kernel = total / time.Duration(t.Repeat)
	metrics.KernelDispatchDuration.WithLabelValues(name).Observe(float64(t.Kernel) / float64(time.Millisecond))
	log.Debug("kernel completed", zap.Stringer("work", inv.Work), zap.Int("repeat", t.Repeat), zap.Duration("mean", t.Kernel))

	// 5. stage the result out.
	start = time.Now()
	ev, err := out.Read(d.queue, inv.Output.Bytes())
	if err == nil {
		err = ev.Wait()
	}
	if err != nil {
		return t, fault.Annotate(err, fault.TransferFailure, name, inv.Shape)
	}
	t.Download = time.Since(start)
	metrics.TransferBytes.WithLabelValues("to_host").Add(float64(len(inv.Output.Bytes())))

	return t, nil
}

func (d *Driver) checkTypes(inv Invocation) error {
	want := inv.Kernel.DType()
	if inv.Output == nil {
		return fault.New(fault.DispatchFailure, inv.Kernel.Name(), inv.Shape, "no output matrix", nil)
	}
	hosts := append([]matrix.Host{inv.Output}, inv.Inputs...)
	for i, h := range hosts {
		if h.DType() != want {
			return fault.New(fault.DispatchFailure, inv.Kernel.Name(), inv.Shape,
				fmt.Sprintf("matrix %d holds %s elements", i, h.DType()), nil)
		}
	}
	return nil
}
