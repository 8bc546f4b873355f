package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/fxnlabs/fastmatrix/internal/fault"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SimConfig sizes the simulated devices.
type SimConfig struct {
	ComputeUnits     int   // concurrently executing work-groups, 0 = runtime.NumCPU()
	MaxWorkGroupSize int   // 0 = 256
	LocalMemSize     int64 // per group, 0 = 32KiB
	MemoryLimit      int64 // global memory per context, 0 = unlimited
}

func (c SimConfig) withDefaults() SimConfig {
	if c.ComputeUnits <= 0 {
		c.ComputeUnits = runtime.NumCPU()
	}
	if c.MaxWorkGroupSize <= 0 {
		c.MaxWorkGroupSize = 256
	}
	if c.LocalMemSize <= 0 {
		c.LocalMemSize = 32 * 1024
	}
	return c
}

type simDevice struct {
	info Info
	cfg  SimConfig
}

func (d *simDevice) Info() Info { return d.info }

// Platform enumerates the simulated devices.
type Platform struct {
	devices []Device
	logger  *zap.Logger
}

// NewSimPlatform returns a platform exposing a simulated GPU and a simulated
// CPU device, both executing kernels on goroutines.
func NewSimPlatform(cfg SimConfig, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("device")
	cfg = cfg.withDefaults()
	host := probeHost(logger)
	global := cfg.MemoryLimit
	if global <= 0 {
		global = host.memory
	}
	if global <= 0 {
		global = 4 << 30
	}
	gpu := &simDevice{cfg: cfg, info: Info{
		Name:             "Simulated GPU",
		Vendor:           "fastmatrix",
		Kind:             KindGPU,
		ComputeUnits:     cfg.ComputeUnits,
		MaxWorkGroupSize: cfg.MaxWorkGroupSize,
		LocalMemSize:     cfg.LocalMemSize,
		GlobalMemSize:    global,
		DriverVersion:    runtime.Version(),
	}}
	cpuCfg := cfg
	cpuCfg.MaxWorkGroupSize = max(cfg.MaxWorkGroupSize, 1024)
	cpu := &simDevice{cfg: cpuCfg, info: Info{
		Name:             fmt.Sprintf("Simulated CPU (%s)", host.model),
		Vendor:           host.vendor,
		Kind:             KindCPU,
		ComputeUnits:     cpuCfg.ComputeUnits,
		MaxWorkGroupSize: cpuCfg.MaxWorkGroupSize,
		LocalMemSize:     cpuCfg.LocalMemSize,
		GlobalMemSize:    global,
		DriverVersion:    runtime.Version(),
	}}
	return &Platform{devices: []Device{gpu, cpu}, logger: logger}
}

// Devices lists the devices of the given kind.
func (p *Platform) Devices(kind Kind) []Device {
	var out []Device
	for _, d := range p.devices {
		if kind == KindAny || d.Info().Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Device returns the first device of the given kind.
func (p *Platform) Device(kind Kind) (Device, error) {
	devs := p.Devices(kind)
	if len(devs) == 0 {
		return nil, fmt.Errorf("no %s device available", kind)
	}
	return devs[0], nil
}

// CreateContext creates a context on d, which must belong to this platform.
func (p *Platform) CreateContext(d Device) (Context, error) {
	sd, ok := d.(*simDevice)
	if !ok {
		return nil, fmt.Errorf("device %q does not belong to the simulated platform", d.Info().Name)
	}
	p.logger.Debug("context created", zap.String("device", sd.info.Name))
	return &simContext{dev: sd, logger: p.logger}, nil
}

type simContext struct {
	dev    *simDevice
	logger *zap.Logger

	mu       sync.Mutex
	used     int64
	live     int
	released bool
}

func (c *simContext) Device() Device { return c.dev }

func (c *simContext) Allocate(size int) (Buffer, error) {
	if size <= 0 {
		return nil, fault.New(fault.DeviceAllocationFailure, "allocate", "", fmt.Sprintf("invalid buffer size %d", size), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, fault.New(fault.DeviceAllocationFailure, "allocate", "", "context released", nil)
	}
	if limit := c.dev.cfg.MemoryLimit; limit > 0 && c.used+int64(size) > limit {
		return nil, fault.New(fault.DeviceAllocationFailure, "allocate", "",
			fmt.Sprintf("out of device memory: requested %d bytes, %d of %d in use", size, c.used, limit), nil)
	}
	c.used += int64(size)
	c.live++
	// Backed by words so that every element type is naturally aligned.
	words := make([]uint64, (size+7)/8)
	mem := unsafeBytes(words)[:size:size]
	return &simBuffer{ctx: c, mem: mem}, nil
}

func (c *simContext) free(size int) {
	c.mu.Lock()
	c.used -= int64(size)
	c.live--
	c.mu.Unlock()
}

func (c *simContext) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *simContext) NewQueue() (Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, errors.New("context released")
	}
	q := &simQueue{ctx: c, cmds: make(chan command, 64), stopped: make(chan struct{})}
	go q.loop()
	return q, nil
}

func (c *simContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	if c.live > 0 {
		c.logger.Warn("context released with live buffers", zap.Int("buffers", c.live), zap.Int64("bytes", c.used))
	}
	return nil
}

type simBuffer struct {
	ctx      *simContext
	mu       sync.Mutex
	mem      []byte
	released bool
}

func (b *simBuffer) Size() int { return len(b.mem) }

func (b *simBuffer) memory() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, errors.New("buffer released")
	}
	return b.mem, nil
}

func (b *simBuffer) Write(q Queue, offset int, src []byte) (*Event, error) {
	sq, err := b.queue(q)
	if err != nil {
		return nil, fault.New(fault.TransferFailure, "write", "", "", err)
	}
	mem, err := b.memory()
	if err != nil {
		return nil, fault.New(fault.TransferFailure, "write", "", "", err)
	}
	if offset < 0 || offset+len(src) > len(mem) {
		return nil, fault.New(fault.TransferFailure, "write", "",
			fmt.Sprintf("%d bytes at offset %d exceed buffer of %d bytes", len(src), offset, len(mem)), nil)
	}
	return sq.enqueue(func() error {
		copy(mem[offset:], src)
		return nil
	})
}

func (b *simBuffer) Read(q Queue, dst []byte) (*Event, error) {
	sq, err := b.queue(q)
	if err != nil {
		return nil, fault.New(fault.TransferFailure, "read", "", "", err)
	}
	mem, err := b.memory()
	if err != nil {
		return nil, fault.New(fault.TransferFailure, "read", "", "", err)
	}
	if len(dst) > len(mem) {
		return nil, fault.New(fault.TransferFailure, "read", "",
			fmt.Sprintf("%d bytes requested from buffer of %d bytes", len(dst), len(mem)), nil)
	}
	return sq.enqueue(func() error {
		copy(dst, mem)
		return nil
	})
}

func (b *simBuffer) queue(q Queue) (*simQueue, error) {
	sq, ok := q.(*simQueue)
	if !ok || sq.ctx != b.ctx {
		return nil, errors.New("queue belongs to a different context")
	}
	return sq, nil
}

func (b *simBuffer) Release() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return errors.New("buffer already released")
	}
	b.released = true
	size := len(b.mem)
	b.mem = nil
	b.mu.Unlock()
	b.ctx.free(size)
	return nil
}

type command struct {
	run func() error
	ev  *Event
}

type simQueue struct {
	ctx     *simContext
	cmds    chan command
	stopped chan struct{}

	mu       sync.Mutex
	released bool
}

var errQueueReleased = errors.New("queue released")

func (q *simQueue) loop() {
	defer close(q.stopped)
	for c := range q.cmds {
		c.ev.complete(c.run())
	}
}

func (q *simQueue) enqueue(run func() error) (*Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, errQueueReleased
	}
	ev := newEvent()
	q.cmds <- command{run: run, ev: ev}
	return ev, nil
}

func (q *simQueue) Finish() error {
	ev, err := q.enqueue(func() error { return nil })
	if err != nil {
		return err
	}
	return ev.Wait()
}

func (q *simQueue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return nil
	}
	q.released = true
	close(q.cmds)
	q.mu.Unlock()
	<-q.stopped
	return nil
}

// unwrapper is implemented by buffers that decorate another buffer.
type unwrapper interface {
	Unwrap() Buffer
}

func (q *simQueue) resolve(arg any) (any, error) {
	buf, ok := arg.(Buffer)
	if !ok {
		return arg, nil
	}
	for {
		if u, ok := buf.(unwrapper); ok {
			buf = u.Unwrap()
			continue
		}
		break
	}
	sb, ok := buf.(*simBuffer)
	if !ok || sb.ctx != q.ctx {
		return nil, errors.New("buffer belongs to a different context")
	}
	mem, err := sb.memory()
	if err != nil {
		return nil, err
	}
	return Global{mem: mem}, nil
}

func (q *simQueue) Dispatch(entry Entry, r NDRange, args ...any) (*Event, error) {
	name := entry.Name()
	shape := fault.Shape(r.Global[0], r.Global[1])
	cfg := q.ctx.dev.cfg

	bound := make([]any, len(args))
	for i, a := range args {
		v, err := q.resolve(a)
		if err != nil {
			return nil, fault.New(fault.DispatchFailure, name, shape, fmt.Sprintf("argument %d", i), err)
		}
		bound[i] = v
	}

	if r.Local == [2]int{} {
		r.Local = DefaultLocal(r.Global, cfg.MaxWorkGroupSize)
	}
	for d := 0; d < 2; d++ {
		if r.Global[d] <= 0 || r.Local[d] <= 0 || r.Global[d]%r.Local[d] != 0 {
			return nil, fault.New(fault.DispatchFailure, name, shape, "invalid work size "+r.String(), nil)
		}
	}
	if r.GroupSize() > cfg.MaxWorkGroupSize {
		return nil, fault.New(fault.DispatchFailure, name, shape,
			fmt.Sprintf("work-group of %d items exceeds device maximum %d", r.GroupSize(), cfg.MaxWorkGroupSize), nil)
	}

	launch, err := entry.Bind(bound)
	if err != nil {
		if fault.KindOf(err) != 0 {
			return nil, err
		}
		return nil, fault.New(fault.DispatchFailure, name, shape, "", err)
	}
	if launch.RequiredLocal != [2]int{} && launch.RequiredLocal != r.Local {
		return nil, fault.New(fault.DispatchFailure, name, shape,
			fmt.Sprintf("kernel requires local size %dx%d, got %s", launch.RequiredLocal[0], launch.RequiredLocal[1], r), nil)
	}
	if int64(launch.ScratchBytes) > cfg.LocalMemSize {
		return nil, fault.New(fault.DispatchFailure, name, shape,
			fmt.Sprintf("kernel needs %d bytes of local memory, device has %d", launch.ScratchBytes, cfg.LocalMemSize), nil)
	}

	return q.enqueue(func() error {
		return execute(name, launch, r, cfg.ComputeUnits)
	})
}

// execute runs every work-group of r, at most units groups at a time.
func execute(name string, l Launch, r NDRange, units int) error {
	groups := [2]int{r.Global[0] / r.Local[0], r.Global[1] / r.Local[1]}
	var g errgroup.Group
	g.SetLimit(units)
	for gy := 0; gy < groups[1]; gy++ {
		for gx := 0; gx < groups[0]; gx++ {
			gx, gy := gx, gy
			g.Go(func() error {
				return runGroup(name, l, r, [2]int{gx, gy})
			})
		}
	}
	return g.Wait()
}

func runGroup(name string, l Launch, r NDRange, group [2]int) error {
	var scratch any
	if l.Scratch != nil {
		scratch = l.Scratch()
	}
	n := r.GroupSize()
	item := func(li int, bar *Barrier) *WorkItem {
		lx, ly := li%r.Local[0], li/r.Local[0]
		return &WorkItem{
			r:       r,
			local:   [2]int{lx, ly},
			group:   group,
			global:  [2]int{group[0]*r.Local[0] + lx, group[1]*r.Local[1] + ly},
			scratch: scratch,
			barrier: bar,
		}
	}

	if !l.Barrier {
		for li := 0; li < n; li++ {
			if err := invoke(name, l.Body, item(li, nil)); err != nil {
				return err
			}
		}
		return nil
	}

	bar := NewBarrier(n)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	wg.Add(n)
	for li := 0; li < n; li++ {
		go func(w *WorkItem) {
			defer wg.Done()
			defer bar.Leave()
			if err := invoke(name, l.Body, w); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(item(li, bar))
	}
	wg.Wait()
	return firstErr
}

func invoke(name string, body func(*WorkItem), w *WorkItem) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fault.New(fault.DispatchFailure, name, "",
				fmt.Sprintf("work-item (%d,%d) aborted", w.global[0], w.global[1]), fmt.Errorf("%v", rec))
		}
	}()
	body(w)
	return nil
}
