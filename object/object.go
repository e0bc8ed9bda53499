package object

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/corethread"
)

// SyncData is a serialized diff produced on the sim thread and applied on
// the core thread.
//
// Bytes is typically carved from the frame arena handed to SerializeDiff and
// stays valid until that arena is reset; Value carries payloads not worth
// byte-packing. Either field may be unset.
type SyncData struct {
	Bytes []byte
	Value any
}

// Syncable is implemented by sim-side paired object types: the concrete type
// embeds Object and provides the two hooks the lifecycle and the registry
// drive.
//
// SerializeDiff must not call back into the Manager; it runs inside the
// registry's critical section.
type Syncable interface {
	// CreateCore constructs the core-thread counterpart. Called once, on
	// the sim thread, from Object.Initialize.
	CreateCore() CoreObject

	// SerializeDiff writes the object's pending sim-side state into arena
	// memory and returns it. The dirty flags to inspect are available via
	// Object.DirtyFlags.
	SerializeDiff(arena *corethread.FrameArena) SyncData
}

// CoreObject is the core-thread half of a paired object. Concrete types
// embed CoreState, which provides the State method.
type CoreObject interface {
	// State returns the embedded core-side lifecycle state.
	State() *CoreState

	// Initialize prepares the counterpart. It runs on the sim thread, or
	// on the core thread when the pair was created with RequiresCoreInit.
	Initialize()

	// ApplyDiff installs a diff previously produced by the sim half's
	// SerializeDiff. Always runs on the core thread.
	ApplyDiff(data SyncData)
}

// initSync is the condition-variable family shared by every paired object of
// a Manager for cross-thread readiness waits.
type initSync struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// Core-side lifecycle flag bits.
const (
	coreInitialized uint32 = 1 << iota
	coreScheduledForInit
)

// CoreState tracks the core-thread half's lifecycle. Embed it in the
// concrete core-side type; the embedded State method satisfies CoreObject.
type CoreState struct {
	flags atomic.Uint32
	sync  *initSync // wired by Object.Initialize
}

// State returns the state itself, satisfying the CoreObject interface for
// types that embed CoreState.
func (s *CoreState) State() *CoreState { return s }

// Initialized reports whether the counterpart finished initializing.
func (s *CoreState) Initialized() bool {
	return s.flags.Load()&coreInitialized != 0
}

// ScheduledForInit reports whether core-thread initialization was queued but
// has not run yet.
func (s *CoreState) ScheduledForInit() bool {
	return s.flags.Load()&coreScheduledForInit != 0
}

func (s *CoreState) markScheduled() {
	s.flags.Or(coreScheduledForInit)
}

// markInitialized publishes the initialized flag and wakes every goroutine
// blocked in BlockUntilCoreInitialized. The atomic store doubles as the
// release fence making the fully constructed counterpart visible to the core
// thread.
func (s *CoreState) markInitialized() {
	s.sync.mu.Lock()
	s.flags.Or(coreInitialized)
	s.flags.And(^coreScheduledForInit)
	s.sync.cond.Broadcast()
	s.sync.mu.Unlock()
}

// CreateFlags configures a paired object at Attach time.
type CreateFlags uint32

const (
	// RequiresCoreInit defers the counterpart's Initialize to the core
	// thread via a queued command instead of running it synchronously on
	// the sim thread. Required for counterparts touching device state
	// that only the core thread may own.
	RequiresCoreInit CreateFlags = 1 << iota
)

// Sim-side lifecycle flag bits.
const (
	flagInitialized uint32 = 1 << iota
	flagScheduledForCoreInit
	flagDestroyed
	flagRequiresCoreInit
)

// DirtyDependency is the reserved dirty bit tagged onto objects dirtied only
// because one of their dependencies is dirty. It does not record which
// dependency caused it.
const DirtyDependency uint32 = 1 << 31

// Object is the sim-thread half of a paired object.
//
// Embed it in a concrete type, attach the implementation with Attach, then
// drive the lifecycle: Initialize, MarkCoreDirty as sim-side state changes,
// and finally Destroy. All Object methods are sim-thread-only except the
// read-only accessors.
type Object struct {
	id    uint64
	flags atomic.Uint32
	dirty atomic.Uint32

	mgr  *Manager
	impl Syncable

	// core is set once by Initialize on the sim thread and published to
	// the core thread through the command queue.
	core CoreObject
}

// Attach registers the object with the manager, assigning its id, and wires
// the concrete implementation. Must be called exactly once, on the sim
// thread, before any other method.
func (o *Object) Attach(mgr *Manager, impl Syncable, flags CreateFlags) {
	if o.mgr != nil {
		panic("object: Attach called twice")
	}
	if mgr.debug && mgr.thread.IsCoreThread() {
		panic("object: Attach called from the core thread")
	}
	o.mgr = mgr
	o.impl = impl
	if flags&RequiresCoreInit != 0 {
		o.flags.Or(flagRequiresCoreInit)
	}
	mgr.register(o)
}

// ID returns the object's unique id. Ids are assigned monotonically at
// Attach and never reused.
func (o *Object) ID() uint64 { return o.id }

// Core returns the core-thread counterpart, or nil before Initialize.
func (o *Object) Core() CoreObject { return o.core }

// IsInitialized reports whether Initialize has run.
func (o *Object) IsInitialized() bool { return o.flags.Load()&flagInitialized != 0 }

// IsDestroyed reports whether Destroy has run.
func (o *Object) IsDestroyed() bool { return o.flags.Load()&flagDestroyed != 0 }

// RequiresCoreInit reports whether the counterpart initializes on the core
// thread.
func (o *Object) RequiresCoreInit() bool { return o.flags.Load()&flagRequiresCoreInit != 0 }

// Initialize creates the core-thread counterpart via the CreateCore hook.
//
// With RequiresCoreInit the counterpart is marked scheduled-for-init and its
// Initialize is queued on the core thread without blocking; otherwise it
// initializes synchronously here and is published with a release fence so
// subsequent core-thread use observes a fully constructed object.
func (o *Object) Initialize() {
	if o.mgr == nil {
		panic("object: Initialize before Attach")
	}
	if o.mgr.debug && o.IsInitialized() {
		panic("object: Initialize called twice")
	}
	core := o.impl.CreateCore()
	st := core.State()
	st.sync = &o.mgr.initSync
	o.core = core

	if o.RequiresCoreInit() {
		o.flags.Or(flagScheduledForCoreInit)
		st.markScheduled()
		o.mgr.thread.Queue(func() {
			core.Initialize()
			st.markInitialized()
		}, corethread.Internal)
	} else {
		core.Initialize()
		st.markInitialized()
	}
	o.flags.Or(flagInitialized)
}

// BlockUntilCoreInitialized blocks the caller until the counterpart's
// initialized flag is set. For synchronously initialized objects it returns
// immediately.
//
// Calling this from the core thread is a programming error (the command that
// would set the flag could never run) and panics under a DebugContext.
func (o *Object) BlockUntilCoreInitialized() {
	core := o.core
	if core == nil {
		panic("object: BlockUntilCoreInitialized before Initialize")
	}
	if o.mgr.debug && o.mgr.thread.IsCoreThread() {
		panic("object: waiting for core init from the core thread would deadlock")
	}
	st := core.State()
	s := &o.mgr.initSync
	s.mu.Lock()
	for !st.Initialized() {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// MarkCoreDirty ORs the given bits into the object's dirty mask. The
// registry is notified only on the clean-to-dirty transition, so repeated
// marking while already dirty costs one atomic OR.
func (o *Object) MarkCoreDirty(bits uint32) {
	if bits == 0 || o.mgr == nil {
		return
	}
	if old := o.dirty.Or(bits); old == 0 {
		o.mgr.notifyDirty(o)
	}
}

// DirtyFlags returns the pending dirty mask. SerializeDiff implementations
// inspect it to decide which state to emit.
func (o *Object) DirtyFlags() uint32 { return o.dirty.Load() }

// IsCoreDirty reports whether any dirty bit is pending.
func (o *Object) IsCoreDirty() bool { return o.dirty.Load() != 0 }

// markClean clears the dirty mask after a diff was serialized.
func (o *Object) markClean() { o.dirty.Store(0) }

// Destroy unregisters the object. If it was dirty, the registry captures one
// final diff that the next synchronization pass emits. For core-thread
// constructed pairs a reference-holding no-op command is queued so the
// counterpart outlives any previously queued command that touches it.
func (o *Object) Destroy() {
	if o.mgr == nil {
		panic("object: Destroy before Attach")
	}
	if o.IsDestroyed() {
		if o.mgr.debug {
			panic("object: Destroy called twice")
		}
		return
	}
	if o.IsCoreDirty() {
		o.mgr.captureDestroyedDiff(o)
	}
	o.mgr.unregister(o)
	o.flags.Or(flagDestroyed)

	if o.RequiresCoreInit() && o.core != nil {
		core := o.core
		o.mgr.thread.Queue(func() {
			runtime.KeepAlive(core)
		}, corethread.Internal)
	}
}
