package queue

// Callback is a fire-and-forget unit of work executed during playback.
type Callback func()

// ReturningCallback is a unit of work that resolves an AsyncOp with its
// result. The callback must call op.Complete; if it does not, playback
// resolves the operation to an empty payload and logs a diagnostic.
type ReturningCallback func(op AsyncOp)

// Command is one deferred unit of work recorded into a Queue.
//
// A Command is owned exclusively by its queue until executed, then discarded.
// Exactly one of fn and returningFn is set, discriminated by returnsValue.
type Command struct {
	fn          Callback
	returningFn ReturningCallback
	op          AsyncOp

	// callbackID identifies the command to the completion-notify callback.
	callbackID uint32

	// notify requests a completion notification right after execution.
	notify bool

	// returnsValue discriminates between fn and returningFn.
	returnsValue bool

	// debugIndex is the per-queue submission index. Assigned only when the
	// owning queue carries a DebugContext; zero otherwise.
	debugIndex uint32
}

// CallbackID returns the identifier passed at enqueue time.
func (c *Command) CallbackID() uint32 { return c.callbackID }

// NotifyWhenComplete reports whether the command was flagged for a
// completion notification.
func (c *Command) NotifyWhenComplete() bool { return c.notify }

// ReturnsValue reports whether the command resolves an AsyncOp.
func (c *Command) ReturnsValue() bool { return c.returnsValue }
