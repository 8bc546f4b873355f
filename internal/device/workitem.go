package device

import "errors"

var errNoBarrier = errors.New("kernel called barrier but was launched without group synchronization")

// WorkItem identifies one invocation of a kernel body.
type WorkItem struct {
	r       NDRange
	global  [2]int
	local   [2]int
	group   [2]int
	scratch any
	barrier *Barrier
}

func (w *WorkItem) GlobalID(dim int) int   { return w.global[dim] }
func (w *WorkItem) LocalID(dim int) int    { return w.local[dim] }
func (w *WorkItem) GroupID(dim int) int    { return w.group[dim] }
func (w *WorkItem) GlobalSize(dim int) int { return w.r.Global[dim] }
func (w *WorkItem) LocalSize(dim int) int  { return w.r.Local[dim] }

// Scratch returns the group's local memory.
func (w *WorkItem) Scratch() any { return w.scratch }

// Barrier blocks until every work-item of the group reaches it.
func (w *WorkItem) Barrier() {
	if w.barrier == nil {
		panic(errNoBarrier)
	}
	w.barrier.Wait()
}
