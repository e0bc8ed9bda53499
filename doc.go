// Package corethread provides the two-thread execution and synchronization
// core used to drive a rendering device from a simulation loop.
//
// # Overview
//
// A single dedicated "core" goroutine owns the device and executes every
// command submitted to it. The simulation goroutine (and any number of
// worker goroutines) produce commands and per-frame data; corethread moves
// both across the thread boundary in order, and keeps paired sim-side /
// core-side objects consistent through dirty tracking and dependency-ordered
// diff batches.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/corethread"
//	    "github.com/gogpu/corethread/object"
//	)
//
//	ct := corethread.New()
//	defer ct.Stop()
//
//	mgr := object.NewManager(ct)
//	defer mgr.Close()
//
//	// Fire-and-forget device work, batched per producer:
//	ct.Queue(func() { uploadBuffer() }, 0)
//	ct.Submit(false)
//
//	// Per frame, on the sim thread:
//	ct.Update()      // swap frame arenas
//	mgr.SyncFrame()  // flush dirty paired objects to the core thread
//	ct.SubmitAll(false)
//
// # Architecture
//
// The module is organized into:
//   - corethread: Thread (the core goroutine manager), PerThreadQueue,
//     FrameArena
//   - queue: command buffers, AsyncOp result handles, debug breakpoints
//   - object: paired-object lifecycle, registry, and diff synchronization
//   - taskpool: work-stealing pool integrated with the core loop's idle time
//   - render: a reference paired-object consumer (Texture)
//
// # Threading Model
//
// Exactly one sim goroutine drives Update, Submit, SubmitAll, and the object
// registry. The core goroutine only executes submitted commands; calling any
// blocking entry point from it deadlocks and panics under a DebugContext.
// Other producers interact solely through Queue/QueueReturn and their
// PerThreadQueue.
//
// All blocking waits in this package are unbounded condition-variable loops:
// there is no timeout or cancellation support anywhere in this core.
package corethread
