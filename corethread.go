package corethread

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/petermattis/goid"

	"github.com/gogpu/corethread/queue"
)

// QueueFlag controls how Thread.Queue and Thread.QueueReturn route a command.
// Flags combine with bitwise OR.
type QueueFlag uint32

const (
	// Internal appends the command directly to the shared internal queue
	// and wakes the core thread, instead of recording it on the caller's
	// private queue for a later Submit.
	Internal QueueFlag = 1 << iota

	// BlockUntilComplete blocks the caller until the core thread has
	// executed the command and signaled completion. Implies Internal.
	BlockUntilComplete
)

// Scheduler is the slot-exchange surface of a work-stealing task pool.
//
// While the core thread sleeps waiting for commands it releases one
// scheduling slot so the pool may run an extra worker on the otherwise idle
// core, and reclaims the slot on wake. taskpool.Pool implements Scheduler.
type Scheduler interface {
	ReleaseSlot()
	ReclaimSlot()
}

// Option configures a Thread during creation.
type Option func(*threadOptions)

type threadOptions struct {
	sched     Scheduler
	debug     *queue.DebugContext
	logger    *slog.Logger
	arenaSize int
}

// WithScheduler integrates the core loop's idle time with a task pool.
// While waiting for work the loop releases one slot to s and reclaims it on
// wake.
func WithScheduler(s Scheduler) Option {
	return func(o *threadOptions) { o.sched = s }
}

// WithDebugContext enables debug checking for the thread and every queue and
// arena it owns: goroutine-confinement panics, command breakpoints, and
// deadlock-prone-wait detection.
func WithDebugContext(d *queue.DebugContext) Option {
	return func(o *threadOptions) { o.debug = d }
}

// WithLogger overrides the package logger for this thread.
func WithLogger(l *slog.Logger) Option {
	return func(o *threadOptions) { o.logger = l }
}

// WithArenaSize sets the initial capacity in bytes of each frame arena.
func WithArenaSize(n int) Option {
	return func(o *threadOptions) { o.arenaSize = n }
}

// Thread owns the dedicated core goroutine and everything submitted to it:
// the shared internal command queue, the registry of per-producer queues,
// the double-buffered frame arenas, and the completion-notification channel
// used by blocking submissions.
//
// Exactly one goroutine (the sim thread, normally the one that called New)
// drives Update, Submit, and SubmitAll. Any number of additional worker
// goroutines may queue commands; each lazily owns a private unsynchronized
// queue. The core goroutine itself must never call the blocking entry
// points.
type Thread struct {
	id     uuid.UUID
	logger *slog.Logger
	debug  *queue.DebugContext
	sched  Scheduler

	simGID  int64
	coreGID int64 // written once during the start handshake

	// internal is the one queue the core loop drains. Synchronized: any
	// goroutine may append to it directly via the Internal flag.
	internal *queue.Queue

	// loopMu pairs with loopCond for the core loop's wait-for-work and
	// guards started and shutdown. Producers signal loopCond after
	// appending to internal.
	loopMu   sync.Mutex
	loopCond *sync.Cond
	started  bool
	shutdown bool

	stopOnce sync.Once
	joined   chan struct{}

	// notifyMu guards completedIDs. Distinct from loopMu so a core-thread
	// completion notify never contends with a producer enqueueing.
	notifyMu     sync.Mutex
	notifyCond   *sync.Cond
	completedIDs []uint32

	// idMu guards nextID, the source of blocking-completion ids.
	idMu   sync.Mutex
	nextID uint32

	// queuesMu guards the per-producer queue registry, keyed by the
	// producing goroutine's id.
	queuesMu sync.Mutex
	queues   map[int64]*PerThreadQueue

	// arenas double-buffer per-frame allocations. active indexes the
	// sim-writable one; touched only by the sim thread via Update.
	arenas [2]*FrameArena
	active int
}

// New spawns the core goroutine and returns once it has recorded its
// identity and entered its loop, so submissions made immediately after New
// returns are guaranteed to find a live consumer.
func New(opts ...Option) *Thread {
	var o threadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}

	t := &Thread{
		id:     uuid.New(),
		sched:  o.sched,
		debug:  o.debug,
		simGID: goid.Get(),
		queues: make(map[int64]*PerThreadQueue),
		joined: make(chan struct{}),
	}
	t.logger = o.logger.With("thread", t.id.String())
	t.loopCond = sync.NewCond(&t.loopMu)
	t.notifyCond = sync.NewCond(&t.notifyMu)

	qopts := []queue.Option{queue.WithLogger(t.logger)}
	if t.debug != nil {
		qopts = append(qopts, queue.WithDebugContext(t.debug))
	}
	t.internal = queue.New(queue.Synchronized, qopts...)

	for i := range t.arenas {
		t.arenas[i] = NewFrameArena(o.arenaSize)
		t.arenas[i].debug = t.debug != nil
	}

	go t.run()

	// Barrier: wait for the core goroutine to record its id and enter the
	// loop before handing the thread to callers.
	t.loopMu.Lock()
	for !t.started {
		t.loopCond.Wait()
	}
	t.loopMu.Unlock()
	return t
}

// run is the core loop. It drains the internal queue until Stop is observed
// with the queue empty.
func (t *Thread) run() {
	t.loopMu.Lock()
	t.coreGID = goid.Get()
	t.started = true
	t.loopCond.Broadcast()
	t.loopMu.Unlock()

	t.logger.Info("core thread started")

	for {
		t.loopMu.Lock()
		for t.internal.IsEmpty() && !t.shutdown {
			// Hand the idle core to the task pool for the duration
			// of the wait.
			if t.sched != nil {
				t.sched.ReleaseSlot()
			}
			t.loopCond.Wait()
			if t.sched != nil {
				t.sched.ReclaimSlot()
			}
		}
		if t.shutdown && t.internal.IsEmpty() {
			t.loopMu.Unlock()
			break
		}
		t.loopMu.Unlock()

		// Flush swaps buffers, so producers keep enqueueing while this
		// batch plays back outside the lock.
		cmds := t.internal.Flush()
		t.internal.Playback(cmds, t.notifyCommandCompleted)
	}

	t.logger.Info("core thread stopped")
	close(t.joined)
}

// Stop requests shutdown, wakes the core loop, and blocks until it has
// drained the internal queue and exited. Safe to call more than once.
//
// Commands still sitting on per-producer queues are not submitted; submit
// them first if they must run.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() {
		t.loopMu.Lock()
		t.shutdown = true
		t.loopCond.Broadcast()
		t.loopMu.Unlock()
	})
	<-t.joined
}

// IsCoreThread reports whether the calling goroutine is the core goroutine.
func (t *Thread) IsCoreThread() bool {
	return goid.Get() == t.coreGID
}

// signalWork wakes the core loop after something was appended to the
// internal queue.
func (t *Thread) signalWork() {
	t.loopMu.Lock()
	t.loopCond.Signal()
	t.loopMu.Unlock()
}

// nextCommandID hands out a unique id for completion notification.
func (t *Thread) nextCommandID() uint32 {
	t.idMu.Lock()
	t.nextID++
	id := t.nextID
	t.idMu.Unlock()
	return id
}

// notifyCommandCompleted records a completed command id and wakes blocked
// submitters. Invoked by playback for every command flagged notify.
func (t *Thread) notifyCommandCompleted(id uint32) {
	t.notifyMu.Lock()
	t.completedIDs = append(t.completedIDs, id)
	t.notifyCond.Broadcast()
	t.notifyMu.Unlock()
}

// blockUntilCommandCompleted waits until the core thread reports the given
// id, then removes it from the completed list. The loop re-checks after
// every wake, handling both spurious wakeups and the command completing
// before the wait begins.
func (t *Thread) blockUntilCommandCompleted(id uint32) {
	if t.debug != nil && t.IsCoreThread() {
		panic("corethread: blocking on command completion from the core thread would deadlock")
	}
	t.notifyMu.Lock()
	for !t.takeCompleted(id) {
		t.notifyCond.Wait()
	}
	t.notifyMu.Unlock()
}

// takeCompleted removes id from completedIDs if present. Caller holds
// notifyMu.
func (t *Thread) takeCompleted(id uint32) bool {
	for i, v := range t.completedIDs {
		if v == id {
			last := len(t.completedIDs) - 1
			t.completedIDs[i] = t.completedIDs[last]
			t.completedIDs = t.completedIDs[:last]
			return true
		}
	}
	return false
}

// ProducerQueue returns the calling goroutine's private command queue,
// creating and registering it on first use.
func (t *Thread) ProducerQueue() *PerThreadQueue {
	g := goid.Get()
	t.queuesMu.Lock()
	pq := t.queues[g]
	t.queuesMu.Unlock()
	if pq != nil {
		return pq
	}
	pq = newPerThreadQueue(t)
	t.queuesMu.Lock()
	t.queues[g] = pq
	t.queuesMu.Unlock()
	return pq
}

// Queue records a fire-and-forget command.
//
// By default the command lands on the caller's private queue, without
// locking, and reaches the core thread on the next Submit or SubmitAll. With
// the Internal flag it is appended directly to the shared internal queue and
// the core thread is woken; with BlockUntilComplete the call additionally
// does not return until the core thread has executed it.
func (t *Thread) Queue(fn func(), flags QueueFlag) {
	if flags&(Internal|BlockUntilComplete) != 0 {
		t.queueInternal(fn, flags&BlockUntilComplete != 0)
		return
	}
	t.ProducerQueue().Queue(fn)
}

// QueueReturn records a value-returning command and returns its AsyncOp.
// Routing follows the same flag rules as Queue.
func (t *Thread) QueueReturn(fn queue.ReturningCallback, flags QueueFlag) queue.AsyncOp {
	if flags&(Internal|BlockUntilComplete) != 0 {
		block := flags&BlockUntilComplete != 0
		id := t.nextCommandID()
		op := t.internal.EnqueueReturning(fn, block, id)
		t.signalWork()
		if block {
			t.blockUntilCommandCompleted(id)
		}
		return op
	}
	return t.ProducerQueue().QueueReturn(fn)
}

// queueInternal appends fn to the shared internal queue, wakes the core
// loop, and optionally blocks until fn has executed.
func (t *Thread) queueInternal(fn func(), block bool) {
	id := t.nextCommandID()
	t.internal.Enqueue(fn, block, id)
	t.signalWork()
	if block {
		t.blockUntilCommandCompleted(id)
	}
}

// Submit flushes the calling goroutine's private queue to the core thread.
// The flushed batch executes as one atomic unit relative to batches from
// other producers.
func (t *Thread) Submit(block bool) {
	t.ProducerQueue().SubmitToCoreThread(block)
}

// SubmitAll submits every registered per-producer queue, worker queues first
// and the sim thread's queue last, so work queued by workers during a frame
// is visible to the core thread before that frame's sim-thread work.
//
// SubmitAll flushes other producers' queues on their behalf; callers must
// ensure those producers are quiescent (the usual frame-barrier contract).
func (t *Thread) SubmitAll(block bool) {
	t.queuesMu.Lock()
	others := make([]*PerThreadQueue, 0, len(t.queues))
	var sim *PerThreadQueue
	for g, pq := range t.queues {
		if g == t.simGID {
			sim = pq
			continue
		}
		others = append(others, pq)
	}
	t.queuesMu.Unlock()

	for _, pq := range others {
		pq.SubmitToCoreThread(false)
	}
	if sim != nil {
		sim.SubmitToCoreThread(block)
	}
}

// Update swaps the active frame arena and resets it. The frame driver calls
// it once per sim frame, strictly before scheduling any core work for that
// frame. Sim thread only.
func (t *Thread) Update() {
	if t.debug != nil && goid.Get() != t.simGID {
		panic(fmt.Sprintf("corethread: Update called from goroutine %d, sim thread is %d", goid.Get(), t.simGID))
	}
	// The arena being retired is consumed by the core thread until the
	// next swap hands it back.
	t.arenas[t.active].setOwner(t.coreGID)
	t.active ^= 1
	a := t.arenas[t.active]
	a.setOwner(goid.Get())
	a.Reset()
	t.logger.Debug("frame arena swapped", "active", t.active)
}

// ActiveFrameArena returns the arena the sim thread may allocate from this
// frame. Sim thread only.
func (t *Thread) ActiveFrameArena() *FrameArena {
	return t.arenas[t.active]
}

// DebugContext returns the thread's debug context, or nil when debug
// checking is off.
func (t *Thread) DebugContext() *queue.DebugContext { return t.debug }

// ID returns the thread's instance id used for log correlation.
func (t *Thread) ID() uuid.UUID { return t.id }
