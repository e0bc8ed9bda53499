package queue

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/petermattis/goid"
)

// Policy selects how a Queue synchronizes its public operations.
type Policy int

const (
	// Unsynchronized queues perform no locking. They are legal only from
	// the goroutine that created them; under a DebugContext every operation
	// verifies the caller's identity.
	Unsynchronized Policy = iota

	// Synchronized queues guard every public operation with one mutex and
	// are safe for concurrent producers.
	Synchronized
)

// Option configures a Queue during creation.
type Option func(*options)

type options struct {
	debug  *DebugContext
	logger *slog.Logger
}

// WithDebugContext enables debug facilities for the queue: breakpoints and,
// for unsynchronized queues, goroutine-confinement checks.
func WithDebugContext(d *DebugContext) Option {
	return func(o *options) { o.debug = d }
}

// WithLogger sets the logger used for playback diagnostics.
// By default the queue logs nothing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Queue is an ordered buffer of deferred commands.
//
// Producers record commands with Enqueue and EnqueueReturning; a consumer
// takes the whole buffer with Flush and executes it with Playback. Flush
// swaps in an empty buffer recycled from an internal pool, so producers never
// block on a consumer that is still playing back a previous batch.
//
// Thread safety depends on the Policy passed to New.
type Queue struct {
	policy Policy

	// mu guards cmds and free. Used only by synchronized queues; playback
	// of a flushed batch runs outside the lock either way.
	mu sync.Mutex

	// owner is the id of the creating goroutine. Unsynchronized queues
	// with a DebugContext verify every caller against it.
	owner int64

	cmds []Command

	// free holds previously flushed, now-empty buffers for reuse. It has
	// its own mutex regardless of policy: Recycle legitimately runs on the
	// consuming thread, which may not own an unsynchronized queue.
	freeMu sync.Mutex
	free   [][]Command

	// opSync is shared by every AsyncOp this queue creates.
	opSync *OpSync

	logger *slog.Logger

	debug      *DebugContext
	queueIndex uint32
	nextIndex  uint32
}

// New creates a command queue with the given synchronization policy.
func New(policy Policy, opts ...Option) *Queue {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = nopLogger()
	}
	q := &Queue{
		policy: policy,
		owner:  goid.Get(),
		cmds:   make([]Command, 0, 64),
		opSync: NewOpSync(),
		logger: o.logger,
		debug:  o.debug,
	}
	if q.debug != nil {
		q.queueIndex = q.debug.nextQueueIndex()
	}
	return q
}

// lock acquires the queue mutex for synchronized queues; a no-op otherwise.
func (q *Queue) lock() {
	if q.policy == Synchronized {
		q.mu.Lock()
	}
}

// lockProducer is lock plus, for unsynchronized queues under a DebugContext,
// a goroutine-confinement check. Producer-side operations (enqueue) use it;
// Flush and CancelAll do not, so a frame driver may drain a quiesced
// producer's queue on its behalf.
func (q *Queue) lockProducer() {
	if q.policy == Synchronized {
		q.mu.Lock()
		return
	}
	if q.debug != nil && goid.Get() != q.owner {
		panic(fmt.Sprintf("queue: unsynchronized queue used from goroutine %d, owned by %d", goid.Get(), q.owner))
	}
}

func (q *Queue) unlock() {
	if q.policy == Synchronized {
		q.mu.Unlock()
	}
}

// Enqueue records a fire-and-forget command.
//
// notify requests that playback invoke its notify callback with callbackID
// immediately after the command executes.
func (q *Queue) Enqueue(fn Callback, notify bool, callbackID uint32) {
	q.lockProducer()
	q.push(Command{fn: fn, notify: notify, callbackID: callbackID})
	q.unlock()
}

// EnqueueReturning records a value-returning command and returns the AsyncOp
// the callback will resolve. The same handle is captured inside the command,
// so the caller and the playback side observe one shared resolution.
func (q *Queue) EnqueueReturning(fn ReturningCallback, notify bool, callbackID uint32) AsyncOp {
	op := newAsyncOp(q.opSync)
	q.lockProducer()
	q.push(Command{returningFn: fn, op: op, returnsValue: true, notify: notify, callbackID: callbackID})
	q.unlock()
	return op
}

// push appends a command. Callers hold the lock (or own the goroutine).
func (q *Queue) push(c Command) {
	if q.debug != nil {
		c.debugIndex = q.nextIndex
		q.nextIndex++
		q.debug.check(q.queueIndex, c.debugIndex)
	}
	q.cmds = append(q.cmds, c)
}

// Flush atomically hands back every pending command and leaves the queue
// empty. The replacement buffer is recycled from the pool when one is
// available, avoiding a reallocation per flush.
//
// The returned batch is owned by the caller until passed to Playback or
// Recycle.
func (q *Queue) Flush() []Command {
	q.lock()
	out := q.cmds
	q.freeMu.Lock()
	if n := len(q.free); n > 0 {
		q.cmds = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		q.cmds = make([]Command, 0, cap(out))
	}
	q.freeMu.Unlock()
	q.unlock()
	return out
}

// Playback executes every command of a flushed batch in submission order,
// then recycles the batch's buffer.
//
// For value-returning commands whose callback did not resolve its AsyncOp,
// the operation is resolved to an empty payload and a diagnostic is logged;
// this is never fatal. For every command flagged notify, notifyFn (if non-nil)
// is invoked with the command's callbackID immediately after that command
// executes and before the next one starts.
//
// A panicking command propagates to the caller, aborting the remainder of
// the batch.
func (q *Queue) Playback(cmds []Command, notifyFn func(callbackID uint32)) {
	for i := range cmds {
		c := &cmds[i]
		if c.returnsValue {
			c.returningFn(c.op)
			if !c.op.HasCompleted() {
				q.logger.Warn("queue: returning command did not resolve its async op, resolving to empty payload",
					"queue", q.queueIndex, "command", c.debugIndex, "callbackID", c.callbackID)
				c.op.Complete(nil)
			}
		} else {
			c.fn()
		}
		if c.notify && notifyFn != nil {
			notifyFn(c.callbackID)
		}
	}
	q.Recycle(cmds)
}

// Recycle returns a flushed batch's buffer to the pool without executing it.
// Playback calls it automatically; use it directly only for batches that are
// deliberately discarded.
func (q *Queue) Recycle(cmds []Command) {
	if cap(cmds) == 0 {
		return
	}
	clear(cmds)
	q.freeMu.Lock()
	q.free = append(q.free, cmds[:0])
	q.freeMu.Unlock()
}

// CancelAll discards every pending command without executing it. AsyncOps
// handed out for discarded commands stay unresolved forever; a caller already
// blocked on one of them will never wake. See the package documentation.
func (q *Queue) CancelAll() {
	q.lock()
	clear(q.cmds)
	q.cmds = q.cmds[:0]
	q.unlock()
}

// IsEmpty reports whether no command was enqueued since the last Flush or
// CancelAll.
func (q *Queue) IsEmpty() bool {
	q.lock()
	empty := len(q.cmds) == 0
	q.unlock()
	return empty
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.lock()
	n := len(q.cmds)
	q.unlock()
	return n
}

// Owner returns the id of the goroutine that created the queue.
func (q *Queue) Owner() int64 { return q.owner }
