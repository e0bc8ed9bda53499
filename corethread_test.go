package corethread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/corethread/queue"
)

func TestThreadStartStop(t *testing.T) {
	ct := New()
	if ct.IsCoreThread() {
		t.Error("the constructing goroutine must not be the core thread")
	}
	ct.Stop()
	ct.Stop() // idempotent
}

func TestThreadInternalCommandRunsOnCoreThread(t *testing.T) {
	ct := New()
	defer ct.Stop()

	var onCore atomic.Bool
	ct.Queue(func() { onCore.Store(ct.IsCoreThread()) }, BlockUntilComplete)

	if !onCore.Load() {
		t.Error("internal command did not run on the core thread")
	}
}

func TestThreadBlockUntilComplete(t *testing.T) {
	ct := New()
	defer ct.Stop()

	// A blocking submission from a worker goroutine must not return until
	// the core thread executed it.
	done := make(chan struct{})
	var executed atomic.Bool
	go func() {
		ct.Queue(func() {
			time.Sleep(10 * time.Millisecond)
			executed.Store(true)
		}, BlockUntilComplete)
		if !executed.Load() {
			t.Error("blocking Queue returned before the command executed")
		}
		close(done)
	}()
	<-done
}

func TestThreadQueueReturn(t *testing.T) {
	ct := New()
	defer ct.Stop()

	op := ct.QueueReturn(func(op queue.AsyncOp) { op.Complete("core") }, Internal)
	if got := op.Wait(); got != "core" {
		t.Errorf("Wait() = %v, want %q", got, "core")
	}
}

func TestThreadSubmitOrder(t *testing.T) {
	ct := New()
	defer ct.Stop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		ct.Queue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}, 0)
	}
	ct.Submit(true)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 20 {
		t.Fatalf("executed %d commands, want 20", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d (single-producer order violated)", i, v, i)
		}
	}
}

func TestThreadSubmitAllOrdersSimLast(t *testing.T) {
	ct := New()
	defer ct.Stop()

	var mu sync.Mutex
	var got []string

	record := func(tag string) func() {
		return func() {
			mu.Lock()
			got = append(got, tag)
			mu.Unlock()
		}
	}

	// Sim-thread work queued first...
	ct.Queue(record("sim"), 0)

	// ...but a worker's batch must reach the core thread before it.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ct.Queue(record("worker"), 0)
	}()
	wg.Wait()

	ct.SubmitAll(true)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "worker" || got[1] != "sim" {
		t.Errorf("execution order = %v, want [worker sim]", got)
	}
}

func TestThreadSubmitBatchAtomicity(t *testing.T) {
	ct := New()
	defer ct.Stop()

	// Two producers submit interleaved batches; each batch must execute
	// contiguously.
	const perBatch = 50
	var mu sync.Mutex
	var got []int

	run := func(tag int) {
		for i := 0; i < perBatch; i++ {
			ct.Queue(func() {
				mu.Lock()
				got = append(got, tag)
				mu.Unlock()
			}, 0)
		}
		ct.Submit(false)
	}

	var wg sync.WaitGroup
	for p := 1; p <= 2; p++ {
		wg.Add(1)
		go func(tag int) {
			defer wg.Done()
			run(tag)
		}(p)
	}
	wg.Wait()
	ct.Queue(func() {}, BlockUntilComplete) // barrier

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2*perBatch {
		t.Fatalf("executed %d commands, want %d", len(got), 2*perBatch)
	}
	switches := 0
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1] {
			switches++
		}
	}
	if switches > 1 {
		t.Errorf("batches interleaved (%d producer switches, want at most 1): batches must execute atomically", switches)
	}
}

func TestThreadStopDrainsQueue(t *testing.T) {
	ct := New()

	var executed atomic.Int32
	for i := 0; i < 100; i++ {
		ct.Queue(func() { executed.Add(1) }, Internal)
	}
	ct.Stop()

	if got := executed.Load(); got != 100 {
		t.Errorf("executed %d commands before shutdown, want 100", got)
	}
}

// countingScheduler records slot exchanges for the core loop's idle wait.
type countingScheduler struct {
	released  atomic.Int32
	reclaimed atomic.Int32
}

func (s *countingScheduler) ReleaseSlot() { s.released.Add(1) }
func (s *countingScheduler) ReclaimSlot() { s.reclaimed.Add(1) }

func TestThreadSchedulerSlotExchange(t *testing.T) {
	sched := &countingScheduler{}
	ct := New(WithScheduler(sched))

	ct.Queue(func() {}, BlockUntilComplete)
	ct.Stop()

	if sched.released.Load() == 0 {
		t.Error("core loop never released a scheduling slot while waiting")
	}
	if got, want := sched.reclaimed.Load(), sched.released.Load(); got != want {
		t.Errorf("reclaimed %d slots, released %d: every release must be paired with a reclaim", got, want)
	}
}

func TestThreadUpdateSwapsArenas(t *testing.T) {
	ct := New()
	defer ct.Stop()

	a0 := ct.ActiveFrameArena()
	a0.Alloc(128)

	ct.Update()
	a1 := ct.ActiveFrameArena()
	if a1 == a0 {
		t.Fatal("Update did not swap the active arena")
	}
	if a1.Used() != 0 {
		t.Error("newly active arena was not reset")
	}

	ct.Update()
	if ct.ActiveFrameArena() != a0 {
		t.Error("second Update should swap back to the first arena")
	}
	if a0.Used() != 0 {
		t.Error("first arena was not reset on reactivation")
	}
}

func TestThreadUpdateWrongGoroutinePanics(t *testing.T) {
	ct := New(WithDebugContext(queue.NewDebugContext()))
	defer ct.Stop()

	panicked := make(chan any, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { panicked <- recover() }()
		ct.Update()
	}()
	<-done

	if p := <-panicked; p == nil {
		t.Error("Update from a non-sim goroutine should panic under a DebugContext")
	}
}

func TestThreadProducerQueuePerGoroutine(t *testing.T) {
	ct := New()
	defer ct.Stop()

	simQ := ct.ProducerQueue()
	if simQ != ct.ProducerQueue() {
		t.Error("repeated ProducerQueue calls from one goroutine should return the same queue")
	}

	var workerQ *PerThreadQueue
	done := make(chan struct{})
	go func() {
		workerQ = ct.ProducerQueue()
		close(done)
	}()
	<-done

	if workerQ == simQ {
		t.Error("different goroutines must get different producer queues")
	}
}
