package device

import "sync"

// Barrier is a reusable group barrier. Work-items that return from the
// kernel Leave it so that the remaining members are not blocked forever.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	arrived int
	gen     uint64
}

// NewBarrier returns a barrier for n members.
func NewBarrier(n int) *Barrier {
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until every remaining member has called Wait.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.arrived++
	if b.arrived >= b.parties {
		b.release()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Leave removes a member permanently.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	if b.arrived > 0 && b.arrived >= b.parties {
		b.release()
	}
}

func (b *Barrier) release() {
	b.arrived = 0
	b.gen++
	b.cond.Broadcast()
}
