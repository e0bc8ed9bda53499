package corethread

import "github.com/gogpu/corethread/queue"

// PerThreadQueue binds one unsynchronized command queue to the goroutine
// that created it and funnels its batches to the core thread.
//
// Obtain one through Thread.ProducerQueue; every producer goroutine gets its
// own. Queueing on it takes no lock. A batch flushed by SubmitToCoreThread
// executes as a single atomic unit relative to batches from other producers,
// in the order the submit calls were made.
type PerThreadQueue struct {
	thread *Thread
	q      *queue.Queue
}

// newPerThreadQueue must run on the producing goroutine so the queue records
// the right owner.
func newPerThreadQueue(t *Thread) *PerThreadQueue {
	qopts := []queue.Option{queue.WithLogger(t.logger)}
	if t.debug != nil {
		qopts = append(qopts, queue.WithDebugContext(t.debug))
	}
	return &PerThreadQueue{
		thread: t,
		q:      queue.New(queue.Unsynchronized, qopts...),
	}
}

// Queue records a fire-and-forget command on the private queue.
func (p *PerThreadQueue) Queue(fn func()) {
	p.q.Enqueue(fn, false, 0)
}

// QueueReturn records a value-returning command on the private queue and
// returns its AsyncOp. The operation resolves when the batch containing the
// command plays back on the core thread.
func (p *PerThreadQueue) QueueReturn(fn queue.ReturningCallback) queue.AsyncOp {
	return p.q.EnqueueReturning(fn, false, 0)
}

// IsEmpty reports whether the private queue holds no pending commands.
func (p *PerThreadQueue) IsEmpty() bool { return p.q.IsEmpty() }

// SubmitToCoreThread flushes the private queue and hands the batch to the
// core thread as one internal command. With block set, the call does not
// return until the core thread has played the whole batch back.
func (p *PerThreadQueue) SubmitToCoreThread(block bool) {
	cmds := p.q.Flush()
	if len(cmds) == 0 {
		p.q.Recycle(cmds)
		return
	}
	t := p.thread
	t.queueInternal(func() {
		p.q.Playback(cmds, t.notifyCommandCompleted)
	}, block)
}
