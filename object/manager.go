package object

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/corethread"
)

// syncEntry is one (destination counterpart, serialized diff) pair of a
// batch.
type syncEntry struct {
	core CoreObject
	data SyncData
}

// syncBatch is the record of one frame's dirty diffs, in apply order, plus
// the arena owning their memory.
type syncBatch struct {
	entries []syncEntry
	arena   *corethread.FrameArena
}

// Manager is the paired-object registry: it assigns ids, tracks the
// dependency graph and the dirty set, and produces dependency-ordered
// synchronization batches.
//
// One coarse mutex guards the id table, the dependency graph, and the dirty
// set as a single critical section; this registry favors simplicity over
// fine-grained concurrency. All mutating entry points are sim-thread-only;
// the core thread only applies finished batches.
type Manager struct {
	thread *corethread.Thread
	logger *slog.Logger
	debug  bool

	// initSync is the readiness cond family shared by every object.
	initSync initSync

	mu     sync.Mutex
	nextID uint64

	objects map[uint64]*Object

	// dependencies[id] is the sorted unique set of ids id depends on;
	// dependants is its symmetric inverse. The two maps are kept in
	// lockstep by UpdateDependencies and unregister.
	dependencies map[uint64][]uint64
	dependants   map[uint64]map[uint64]struct{}

	dirty map[uint64]*Object

	// destroyedDiffs holds the final snapshots of objects destroyed while
	// dirty, emitted by the next synchronization pass.
	destroyedDiffs []syncEntry

	// batches is the FIFO of finished frame records not yet applied by the
	// core thread. The sim thread may run up to one frame ahead, so more
	// than one batch can be outstanding.
	batches []*syncBatch
}

// NewManager creates a registry bound to the given core thread.
func NewManager(t *corethread.Thread) *Manager {
	m := &Manager{
		thread:       t,
		logger:       corethread.Logger(),
		debug:        t.DebugContext() != nil,
		objects:      make(map[uint64]*Object),
		dependencies: make(map[uint64][]uint64),
		dependants:   make(map[uint64]map[uint64]struct{}),
		dirty:        make(map[uint64]*Object),
	}
	m.initSync.cond = sync.NewCond(&m.initSync.mu)
	return m
}

// Thread returns the core thread the registry synchronizes against.
func (m *Manager) Thread() *corethread.Thread { return m.thread }

// Count returns the number of registered objects.
func (m *Manager) Count() int {
	m.mu.Lock()
	n := len(m.objects)
	m.mu.Unlock()
	return n
}

// register assigns the next id and inserts the tracking entry.
func (m *Manager) register(o *Object) {
	m.mu.Lock()
	m.nextID++
	o.id = m.nextID
	m.objects[o.id] = o
	m.mu.Unlock()
}

// unregister removes the object and both directions of its dependency edges,
// preserving the symmetry of the two maps.
func (m *Manager) unregister(o *Object) {
	id := o.id
	m.mu.Lock()
	delete(m.objects, id)
	delete(m.dirty, id)

	for _, dep := range m.dependencies[id] {
		if set := m.dependants[dep]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.dependants, dep)
			}
		}
	}
	delete(m.dependencies, id)

	for dependant := range m.dependants[id] {
		if deps := m.dependencies[dependant]; deps != nil {
			if i, ok := slices.BinarySearch(deps, id); ok {
				m.dependencies[dependant] = slices.Delete(deps, i, i+1)
			}
		}
	}
	delete(m.dependants, id)
	m.mu.Unlock()
}

// notifyDirty records the clean-to-dirty transition of an object.
func (m *Manager) notifyDirty(o *Object) {
	m.mu.Lock()
	m.dirty[o.id] = o
	m.mu.Unlock()
}

// captureDestroyedDiff serializes the final diff of a dirty object being
// destroyed. The snapshot rides the next synchronization pass exactly once.
func (m *Manager) captureDestroyedDiff(o *Object) {
	data := o.impl.SerializeDiff(m.thread.ActiveFrameArena())
	o.markClean()
	m.mu.Lock()
	m.destroyedDiffs = append(m.destroyedDiffs, syncEntry{core: o.core, data: data})
	m.mu.Unlock()
}

// UpdateDependencies replaces the object's outgoing dependency set with deps
// and patches the dependants map for every edge of the symmetric difference.
// Passing nil clears all of the object's outgoing edges; callers do this
// right before destroying an object.
func (m *Manager) UpdateDependencies(obj *Object, deps []*Object) {
	id := obj.id

	newDeps := make([]uint64, 0, len(deps))
	for _, d := range deps {
		if d == nil || d.id == id {
			continue
		}
		newDeps = append(newDeps, d.id)
	}
	slices.Sort(newDeps)
	newDeps = slices.Compact(newDeps)

	m.mu.Lock()
	old := m.dependencies[id]

	// Walk both sorted lists once; edges present on only one side are the
	// symmetric difference to patch.
	i, j := 0, 0
	for i < len(old) || j < len(newDeps) {
		switch {
		case j >= len(newDeps) || (i < len(old) && old[i] < newDeps[j]):
			// removed edge
			if set := m.dependants[old[i]]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(m.dependants, old[i])
				}
			}
			i++
		case i >= len(old) || old[i] > newDeps[j]:
			// added edge
			set := m.dependants[newDeps[j]]
			if set == nil {
				set = make(map[uint64]struct{})
				m.dependants[newDeps[j]] = set
			}
			set[id] = struct{}{}
			j++
		default:
			i++
			j++
		}
	}

	if len(newDeps) == 0 {
		delete(m.dependencies, id)
	} else {
		m.dependencies[id] = newDeps
	}
	m.mu.Unlock()
}

// Dependencies returns the sorted ids the object currently depends on.
func (m *Manager) Dependencies(obj *Object) []uint64 {
	m.mu.Lock()
	out := slices.Clone(m.dependencies[obj.id])
	m.mu.Unlock()
	return out
}

// Dependants returns the sorted ids currently depending on the object.
func (m *Manager) Dependants(obj *Object) []uint64 {
	m.mu.Lock()
	set := m.dependants[obj.id]
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	m.mu.Unlock()
	slices.Sort(out)
	return out
}

// SyncFrame serializes every dirty object into one frame record and queues a
// core-thread command applying the oldest outstanding record. The frame
// driver calls it once per sim frame, after Thread.Update.
//
// The dirty set is first expanded: every dependant of a dirty object that is
// not itself dirty is added with the DirtyDependency bit. Objects are then
// walked in ascending id order (a proxy for creation order), dependencies
// first, so the record lists every dependency before its dependants.
// Snapshots captured from objects destroyed while dirty ride at the front of
// the record.
//
// Dependency cycles cannot be ordered; the walk breaks them at the point of
// re-entry and logs a warning.
func (m *Manager) SyncFrame() {
	if m.debug && m.thread.IsCoreThread() {
		panic("object: SyncFrame called from the core thread")
	}
	arena := m.thread.ActiveFrameArena()

	m.mu.Lock()

	// (1) Expand over dependants, transitively.
	work := make([]uint64, 0, len(m.dirty))
	for id := range m.dirty {
		work = append(work, id)
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		for dep := range m.dependants[id] {
			o := m.objects[dep]
			if o == nil || o.IsCoreDirty() {
				continue
			}
			o.dirty.Or(DirtyDependency)
			m.dirty[dep] = o
			work = append(work, dep)
		}
	}

	// (2) Serialize in ascending id order, dependencies first.
	batch := &syncBatch{arena: arena}
	batch.entries = append(batch.entries, m.destroyedDiffs...)
	m.destroyedDiffs = nil

	ids := make([]uint64, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	visiting := make(map[uint64]struct{})
	var walk func(o *Object)
	walk = func(o *Object) {
		if !o.IsCoreDirty() {
			return
		}
		if _, ok := visiting[o.id]; ok {
			m.logger.Warn("object: dependency cycle broken during synchronization", "id", o.id)
			return
		}
		visiting[o.id] = struct{}{}
		for _, dep := range m.dependencies[o.id] {
			if d := m.objects[dep]; d != nil && d.IsCoreDirty() {
				walk(d)
			}
		}
		batch.entries = append(batch.entries, syncEntry{core: o.core, data: o.impl.SerializeDiff(arena)})
		o.markClean()
		delete(m.dirty, o.id)
		delete(visiting, o.id)
	}
	for _, id := range ids {
		if o := m.dirty[id]; o != nil {
			walk(o)
		}
	}

	m.batches = append(m.batches, batch)
	m.mu.Unlock()

	// Apply the OLDEST outstanding batch, never the newest, preserving
	// producer order when the sim thread runs a frame ahead.
	m.thread.Queue(m.applyOldestBatch, corethread.Internal)
}

// applyOldestBatch runs on the core thread and applies the front of the
// batch FIFO in record order.
func (m *Manager) applyOldestBatch() {
	m.mu.Lock()
	if len(m.batches) == 0 {
		m.mu.Unlock()
		return
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	m.mu.Unlock()

	for i := range batch.entries {
		e := &batch.entries[i]
		e.core.ApplyDiff(e.data)
	}
}

// SyncToCore synchronizes one object (and its dirty dependencies)
// immediately, outside the per-frame batching. The gathered diffs list the
// object before its dependencies; the core thread applies the list in
// reverse, restoring dependency-before-dependant order without a sort.
func (m *Manager) SyncToCore(obj *Object) {
	if m.debug && m.thread.IsCoreThread() {
		panic("object: SyncToCore called from the core thread")
	}
	arena := m.thread.ActiveFrameArena()

	m.mu.Lock()
	var entries []syncEntry
	visiting := make(map[uint64]struct{})
	var gather func(o *Object)
	gather = func(o *Object) {
		if !o.IsCoreDirty() {
			return
		}
		if _, ok := visiting[o.id]; ok {
			m.logger.Warn("object: dependency cycle broken during synchronization", "id", o.id)
			return
		}
		visiting[o.id] = struct{}{}
		entries = append(entries, syncEntry{core: o.core, data: o.impl.SerializeDiff(arena)})
		o.markClean()
		delete(m.dirty, o.id)
		for _, dep := range m.dependencies[o.id] {
			if d := m.objects[dep]; d != nil && d.IsCoreDirty() {
				gather(d)
			}
		}
		delete(visiting, o.id)
	}
	gather(obj)
	m.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	m.thread.Queue(func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].core.ApplyDiff(entries[i].data)
		}
	}, corethread.Internal)
}

// Close verifies the registry is empty. Every paired object must be
// explicitly destroyed before shutdown; under a DebugContext leftover
// objects panic, otherwise they are logged.
func (m *Manager) Close() error {
	m.mu.Lock()
	n := len(m.objects)
	m.mu.Unlock()
	if n == 0 {
		return nil
	}
	if m.debug {
		panic(fmt.Sprintf("object: %d objects still registered at manager close", n))
	}
	m.logger.Warn("object: objects still registered at manager close", "count", n)
	return fmt.Errorf("object: %d objects still registered at manager close", n)
}
