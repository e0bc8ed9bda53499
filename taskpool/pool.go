// Package taskpool provides a work-stealing goroutine pool whose active
// worker budget integrates with the core thread's idle time.
//
// The pool distributes tasks across per-worker queues; a worker whose queue
// is empty steals from the others. A weighted semaphore caps how many workers
// run simultaneously. One slot of the budget belongs to the core thread: when
// the core loop goes to sleep waiting for commands it calls ReleaseSlot,
// letting the pool run one extra worker on the otherwise idle core, and
// reclaims the slot on wake.
package taskpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool is a work-stealing task pool.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	// workers is the number of worker goroutines.
	workers int

	// queues holds per-worker task queues. Each worker primarily pulls
	// from its own queue but steals from others when it runs dry.
	queues []chan func()

	// slots caps concurrently running workers. Sized workers+1: the extra
	// weight is the core thread's slot, acquired by the pool at creation
	// and exchanged through ReleaseSlot/ReclaimSlot.
	slots *semaphore.Weighted

	// next selects the queue for the next submission, round-robin.
	next atomic.Uint64

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// New creates a pool with the given number of workers and starts it.
// If workers is 0 or negative, GOMAXPROCS is used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		slots:   semaphore.NewWeighted(int64(workers) + 1),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	// Hold the core thread's slot until it is explicitly released.
	if err := p.slots.Acquire(context.Background(), 1); err != nil {
		panic("taskpool: acquiring initial slot: " + err.Error())
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool is accepting work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Submit schedules fn on the pool. It blocks while every queue is full.
// Returns false if the pool is closed.
func (p *Pool) Submit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	idx := int(p.next.Add(1)) % p.workers
	select {
	case p.queues[idx] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// ReleaseSlot grants one extra worker slot. Called by the core thread when
// it starts waiting for commands.
func (p *Pool) ReleaseSlot() {
	p.slots.Release(1)
}

// ReclaimSlot takes a worker slot back. Called by the core thread on wake;
// blocks until a running task finishes if the pool borrowed the slot.
func (p *Pool) ReclaimSlot() {
	if err := p.slots.Acquire(context.Background(), 1); err != nil {
		panic("taskpool: reclaiming slot: " + err.Error())
	}
}

// Close stops accepting work, lets workers drain their queues, and waits for
// them to exit.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// worker is the main loop of each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(myQueue)
			return

		case task := <-myQueue:
			p.runTask(task)

		default:
			if stolen := p.steal(id); stolen != nil {
				p.runTask(stolen)
			} else {
				select {
				case <-p.done:
					p.drain(myQueue)
					return
				case task := <-myQueue:
					p.runTask(task)
				}
			}
		}
	}
}

// runTask executes one task inside a semaphore slot.
func (p *Pool) runTask(task func()) {
	if task == nil {
		return
	}
	if err := p.slots.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer p.slots.Release(1)
	task()
}

// steal attempts to take a task from another worker's queue.
// Returns nil if no work is available.
func (p *Pool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case task := <-p.queues[i]:
			return task
		default:
		}
	}
	return nil
}

// drain executes all remaining tasks in a queue.
func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case task := <-queue:
			p.runTask(task)
		default:
			return
		}
	}
}
