package object

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/corethread"
	"github.com/gogpu/corethread/queue"
)

// recorder captures serialize/apply traces across threads.
type recorder struct {
	mu         sync.Mutex
	serialized []string
	applied    []string
	dirtySeen  map[string]uint32
}

func newRecorder() *recorder {
	return &recorder{dirtySeen: make(map[string]uint32)}
}

func (r *recorder) snapshot() (serialized, applied []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.serialized), slices.Clone(r.applied)
}

// fakeObject is a minimal paired object for registry tests.
type fakeObject struct {
	Object
	name string
	rec  *recorder
	core *fakeCore
}

func newFake(t *testing.T, mgr *Manager, name string, rec *recorder, flags CreateFlags) *fakeObject {
	t.Helper()
	f := &fakeObject{name: name, rec: rec}
	f.core = &fakeCore{name: name, rec: rec}
	f.Attach(mgr, f, flags)
	f.Initialize()
	return f
}

func (f *fakeObject) CreateCore() CoreObject { return f.core }

func (f *fakeObject) SerializeDiff(arena *corethread.FrameArena) SyncData {
	f.rec.mu.Lock()
	f.rec.serialized = append(f.rec.serialized, f.name)
	f.rec.dirtySeen[f.name] = f.DirtyFlags()
	f.rec.mu.Unlock()
	return SyncData{Value: f.name}
}

type fakeCore struct {
	CoreState
	name     string
	rec      *recorder
	initGate chan struct{} // when set, Initialize blocks on it
}

func (c *fakeCore) Initialize() {
	if c.initGate != nil {
		<-c.initGate
	}
}

func (c *fakeCore) ApplyDiff(d SyncData) {
	c.rec.mu.Lock()
	c.rec.applied = append(c.rec.applied, d.Value.(string))
	c.rec.mu.Unlock()
}

// barrier waits until the core thread has drained everything queued so far.
func barrier(ct *corethread.Thread) {
	ct.Queue(func() {}, corethread.BlockUntilComplete)
}

func newTestManager(t *testing.T) (*corethread.Thread, *Manager) {
	t.Helper()
	ct := corethread.New()
	t.Cleanup(ct.Stop)
	return ct, NewManager(ct)
}

func TestInitializeSynchronous(t *testing.T) {
	_, mgr := newTestManager(t)
	rec := newRecorder()

	f := newFake(t, mgr, "a", rec, 0)
	defer f.Destroy()

	if !f.IsInitialized() {
		t.Error("object not initialized")
	}
	if !f.core.State().Initialized() {
		t.Error("synchronously initialized counterpart should be ready immediately")
	}
	// Must return without waiting.
	f.BlockUntilCoreInitialized()
}

func TestInitializeOnCoreThread(t *testing.T) {
	ct, mgr := newTestManager(t)
	rec := newRecorder()

	gate := make(chan struct{})
	f := &fakeObject{name: "a", rec: rec}
	f.core = &fakeCore{name: "a", rec: rec, initGate: gate}
	f.Attach(mgr, f, RequiresCoreInit)
	f.Initialize()
	defer f.Destroy()

	if f.core.State().Initialized() {
		t.Fatal("counterpart initialized before the core thread ran its command")
	}
	if !f.core.State().ScheduledForInit() {
		t.Error("counterpart should be marked scheduled for init")
	}

	done := make(chan struct{})
	go func() {
		f.BlockUntilCoreInitialized()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("BlockUntilCoreInitialized returned before initialization")
	case <-time.After(10 * time.Millisecond):
	}

	close(gate)
	<-done

	if !f.core.State().Initialized() {
		t.Error("counterpart not initialized after wait returned")
	}
	if f.core.State().ScheduledForInit() {
		t.Error("scheduled flag should clear once initialized")
	}
	barrier(ct)
}

func TestMarkCoreDirty(t *testing.T) {
	_, mgr := newTestManager(t)
	rec := newRecorder()

	f := newFake(t, mgr, "a", rec, 0)
	defer f.Destroy()

	if f.IsCoreDirty() {
		t.Error("fresh object should be clean")
	}
	f.MarkCoreDirty(1 << 0)
	f.MarkCoreDirty(1 << 2)
	if got, want := f.DirtyFlags(), uint32(1<<0|1<<2); got != want {
		t.Errorf("DirtyFlags() = %#x, want %#x", got, want)
	}

	mgr.mu.Lock()
	_, tracked := mgr.dirty[f.ID()]
	n := len(mgr.dirty)
	mgr.mu.Unlock()
	if !tracked || n != 1 {
		t.Errorf("dirty set should track the object exactly once (tracked=%v, len=%d)", tracked, n)
	}
}

func TestIDsMonotonic(t *testing.T) {
	_, mgr := newTestManager(t)
	rec := newRecorder()

	a := newFake(t, mgr, "a", rec, 0)
	b := newFake(t, mgr, "b", rec, 0)
	if a.ID() >= b.ID() {
		t.Errorf("ids not monotonically increasing: %d then %d", a.ID(), b.ID())
	}
	a.Destroy()
	c := newFake(t, mgr, "c", rec, 0)
	if c.ID() <= b.ID() {
		t.Errorf("id %d reused or non-monotonic after destroy (last was %d)", c.ID(), b.ID())
	}
	b.Destroy()
	c.Destroy()
}

func TestDoubleDestroyPanicsUnderDebug(t *testing.T) {
	ct := corethread.New(corethread.WithDebugContext(queue.NewDebugContext()))
	t.Cleanup(ct.Stop)
	mgr := NewManager(ct)
	rec := newRecorder()

	f := newFake(t, mgr, "a", rec, 0)
	f.Destroy()

	defer func() {
		if recover() == nil {
			t.Error("second Destroy should panic under a DebugContext")
		}
	}()
	f.Destroy()
}
