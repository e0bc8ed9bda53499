// Package queue implements the deferred command buffers underneath the core
// thread: ordered queues of callbacks, waitable AsyncOp result handles, and a
// debug breakpoint facility for reproducing submission sites.
//
// # Queues
//
// A Queue buffers commands until a consumer takes them with Flush and runs
// them with Playback. Two synchronization policies exist: Unsynchronized
// queues are confined to their creating goroutine (each producer owns one),
// while Synchronized queues accept concurrent producers and back the single
// queue the core thread drains.
//
// Flush swaps the active buffer for an empty recycled one, so producers keep
// enqueueing while the consumer plays back the previous batch.
//
// # Result handles
//
// EnqueueReturning hands back an AsyncOp, a cheap-to-copy future resolved by
// the command's callback during playback. If a callback forgets to resolve
// its operation, playback resolves it to an empty payload and logs a
// diagnostic rather than failing.
//
// # Limitations
//
// CancelAll discards pending commands without resolving their AsyncOps. Any
// goroutine already blocked in AsyncOp.Wait on a discarded operation blocks
// forever; there is no timeout or cancellation support in this layer.
package queue
