package queue

import (
	"sync"
	"sync/atomic"
)

// OpSync is the wait/notify primitive shared by AsyncOps.
//
// A command queue creates one OpSync and hands it to every value-returning
// command it records, so resolving any of the queue's operations contends on
// a single mutex instead of one per operation. Standalone AsyncOps created
// with NewAsyncOp get their own.
type OpSync struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewOpSync creates a wait/notify block usable by any number of AsyncOps.
func NewOpSync() *OpSync {
	s := &OpSync{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// asyncOpState is the shared state block behind every copy of an AsyncOp.
// Once completed is set the value never changes again.
type asyncOpState struct {
	sync      *OpSync
	completed atomic.Bool
	value     any
}

// AsyncOp is a waitable handle to a value produced later by a queued command.
//
// AsyncOp is cheap to copy: every copy shares one state block, so a resolution
// observed through one copy is observed through all of them. The zero value is
// an empty handle with no backing state; IsValid reports whether a handle can
// ever complete.
//
// The consuming side polls HasCompleted or blocks in Wait. The producing side
// (the queued callback) calls Complete exactly once.
type AsyncOp struct {
	state *asyncOpState
}

// NewAsyncOp returns an AsyncOp backed by a fresh synchronization block.
func NewAsyncOp() AsyncOp {
	return newAsyncOp(NewOpSync())
}

// newAsyncOp returns an AsyncOp sharing the given wait/notify block.
func newAsyncOp(s *OpSync) AsyncOp {
	return AsyncOp{state: &asyncOpState{sync: s}}
}

// IsValid reports whether the handle is backed by a synchronization block.
// The zero AsyncOp is not valid and never completes.
func (op AsyncOp) IsValid() bool {
	return op.state != nil
}

// HasCompleted reports whether the operation has been resolved.
func (op AsyncOp) HasCompleted() bool {
	return op.state != nil && op.state.completed.Load()
}

// Value returns the payload committed by Complete, or nil if the operation
// has not completed. Once HasCompleted returns true the payload is immutable
// and visible to every copy of the handle.
func (op AsyncOp) Value() any {
	if op.state == nil || !op.state.completed.Load() {
		return nil
	}
	return op.state.value
}

// Wait blocks until the operation completes and returns its payload.
//
// There is no timeout and no cancellation: waiting on an operation whose
// command was discarded by CancelAll blocks forever.
func (op AsyncOp) Wait() any {
	if op.state == nil {
		return nil
	}
	s := op.state.sync
	s.mu.Lock()
	for !op.state.completed.Load() {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return op.state.value
}

// Complete resolves the operation with the given payload and wakes every
// waiter. Completing an already-completed operation is a no-op; the first
// payload wins.
func (op AsyncOp) Complete(value any) {
	if op.state == nil {
		return
	}
	s := op.state.sync
	s.mu.Lock()
	if !op.state.completed.Load() {
		op.state.value = value
		op.state.completed.Store(true)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
