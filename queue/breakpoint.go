package queue

import (
	"fmt"
	"sync"
)

// breakpoint identifies one submission site: the n-th command enqueued on
// the m-th queue created under one DebugContext.
type breakpoint struct {
	queueIndex   uint32
	commandIndex uint32
}

// DebugContext enables the debug facilities of the queues created with it:
// goroutine-confinement checks on unsynchronized queues and command
// breakpoints.
//
// A breakpoint is a (queueIndex, commandIndex) pair recorded from a previous
// run's diagnostics. When a queue enqueues the command whose coordinates match
// a registered breakpoint, the enqueue panics, reproducing the exact
// submission site under a debugger.
//
// Queue indexes are assigned by the DebugContext, so coordinates are stable
// across runs as long as queue creation order is deterministic. A DebugContext
// is safe for concurrent use.
type DebugContext struct {
	mu          sync.Mutex
	nextQueue   uint32
	breakpoints map[breakpoint]struct{}
}

// NewDebugContext creates an empty debug context.
func NewDebugContext() *DebugContext {
	return &DebugContext{breakpoints: make(map[breakpoint]struct{})}
}

// SetBreakpoint arranges for the enqueue matching the given coordinates to
// panic. Coordinates come from the diagnostics of a previous run.
func (d *DebugContext) SetBreakpoint(queueIndex, commandIndex uint32) {
	d.mu.Lock()
	d.breakpoints[breakpoint{queueIndex, commandIndex}] = struct{}{}
	d.mu.Unlock()
}

// ClearBreakpoint removes a previously set breakpoint.
func (d *DebugContext) ClearBreakpoint(queueIndex, commandIndex uint32) {
	d.mu.Lock()
	delete(d.breakpoints, breakpoint{queueIndex, commandIndex})
	d.mu.Unlock()
}

// nextQueueIndex hands out the index for a newly created queue.
func (d *DebugContext) nextQueueIndex() uint32 {
	d.mu.Lock()
	idx := d.nextQueue
	d.nextQueue++
	d.mu.Unlock()
	return idx
}

// check panics if a breakpoint matches the given coordinates.
func (d *DebugContext) check(queueIndex, commandIndex uint32) {
	d.mu.Lock()
	_, hit := d.breakpoints[breakpoint{queueIndex, commandIndex}]
	d.mu.Unlock()
	if hit {
		panic(fmt.Sprintf("queue: breakpoint hit (queue %d, command %d)", queueIndex, commandIndex))
	}
}
