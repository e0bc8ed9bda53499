// Package object implements paired sim-side/core-side objects and the
// registry that keeps the two halves consistent.
//
// # Paired objects
//
// A paired object exists simultaneously on both threads: the sim half (a
// concrete type embedding Object) carries authoritative state and dirty
// flags; the core half (a concrete type embedding CoreState and satisfying
// CoreObject) mirrors whatever the device needs. Object.Initialize invokes
// the CreateCore factory hook; types flagged RequiresCoreInit get their
// counterpart initialized by a queued core-thread command, everything else
// initializes synchronously on the sim thread.
//
// # Synchronization
//
// Sim-side mutations call MarkCoreDirty. Once per frame Manager.SyncFrame
// serializes every dirty object's diff into a frame record — dependencies
// before dependants, ascending id order — and queues a core-thread command
// applying the oldest outstanding record. Manager.SyncToCore synchronizes a
// single object immediately when waiting for the next frame is not an
// option.
//
// Dependencies are declared with Manager.UpdateDependencies; the registry
// maintains the inverse dependants map and expands the dirty set across it,
// tagging follow-on objects with DirtyDependency.
//
// # Lifecycle rules
//
// Every attached object must be explicitly destroyed before Manager.Close.
// Destroying a dirty object captures one final diff, emitted by the next
// synchronization pass.
package object
