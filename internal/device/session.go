package device

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Session holds the device, context and queue used by one engine.
type Session struct {
	mu      sync.RWMutex
	device  Device
	context Context
	queue   Queue
	logger  *zap.Logger
}

// Open selects a device of the requested kind, falling back to the simulated
// CPU when no such device exists, and prepares a context and queue on it.
func Open(p *Platform, kind Kind, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dev, err := p.Device(kind)
	if err != nil {
		logger.Warn("requested device kind unavailable, falling back to cpu", zap.String("kind", string(kind)))
		if dev, err = p.Device(KindCPU); err != nil {
			return nil, err
		}
	}

	ctx, err := p.CreateContext(dev)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	q, err := ctx.NewQueue()
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	info := dev.Info()
	logger.Info("device session opened",
		zap.String("device", info.Name),
		zap.String("kind", string(info.Kind)),
		zap.Int("compute_units", info.ComputeUnits),
		zap.Int("max_work_group_size", info.MaxWorkGroupSize))

	return &Session{device: dev, context: ctx, queue: q, logger: logger}, nil
}

func (s *Session) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

func (s *Session) Context() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

func (s *Session) Queue() Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue
}

// Info returns the selected device's description.
func (s *Session) Info() Info {
	dev := s.Device()
	if dev == nil {
		return Info{Name: "No device available"}
	}
	return dev.Info()
}

// Close releases the queue and then the context.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		if err := s.queue.Release(); err != nil {
			return err
		}
		s.queue = nil
	}
	if s.context != nil {
		if err := s.context.Release(); err != nil {
			return err
		}
		s.context = nil
	}
	s.device = nil
	return nil
}
