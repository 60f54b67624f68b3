package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Outcome describes how a context completed.
type Outcome int

const (
	// OutcomeClean means the unit of work completed without an error.
	OutcomeClean Outcome = iota

	// OutcomeException means the unit of work completed because of an
	// unhandled error.
	OutcomeException
)

// String returns a human-readable outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeException:
		return "exception"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Completion is delivered to every completion hook when a context finishes.
type Completion struct {
	// Outcome is how the context ended.
	Outcome Outcome

	// Cause is the error that ended the context, or nil for OutcomeClean.
	Cause error
}

// Hook is a completion callback. The context.Context passed in carries the
// caller's deadline for teardown work; hooks that must not be interrupted
// (e.g. a database close) shield themselves with context.WithoutCancel.
//
// Returns:
//   - error: Surfaced on the Finish error path; never silently swallowed.
type Hook func(ctx context.Context, c Completion) error

// CancelFunc deregisters a completion hook. Safe to call more than once
// and safe to call after the context has finished (no-op).
type CancelFunc func()

// hookEntry tracks one registered hook and its removal state.
type hookEntry struct {
	fn      Hook
	removed bool
}

// Context is a scoped unit of work. Resources are attached to it for their
// lifetime; completion hooks finalize them when Finish is called.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Context struct {
	id     uuid.UUID
	parent *Context

	mu        sync.Mutex
	resources map[string]any
	factories map[string]Factory
	lazy      map[string]*lazyInstance
	hooks     []*hookEntry
	finished  bool

	// done is closed after Finish has run every hook.
	done chan struct{}
}

// New creates a new lifecycle context.
//
// Parameters:
//   - parent: Enclosing context for resource lookup, or nil for a root context
//
// Returns:
//   - *Context: Unfinished context ready for resource registration
func New(parent *Context) *Context {
	return &Context{
		id:        uuid.New(),
		parent:    parent,
		resources: make(map[string]any),
		factories: make(map[string]Factory),
		done:      make(chan struct{}),
	}
}

// ID returns the unique identifier of this context.
func (c *Context) ID() uuid.UUID {
	return c.id
}

// Parent returns the enclosing context, or nil for a root context.
func (c *Context) Parent() *Context {
	return c.parent
}

// Done returns a channel that is closed once the context has finished and
// all completion hooks have run.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Finished reports whether Finish has been called.
func (c *Context) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// OnCompletion registers a hook to run when the context finishes.
//
// Hooks run in reverse registration order (LIFO). The returned CancelFunc
// removes the hook; it is a no-op once the hook has run.
//
// Parameters:
//   - hook: Callback receiving the completion outcome
//
// Returns:
//   - CancelFunc: Deregisters the hook
//   - error: ErrFinished if the context has already completed
func (c *Context) OnCompletion(hook Hook) (CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return nil, ErrFinished
	}

	entry := &hookEntry{fn: hook}
	c.hooks = append(c.hooks, entry)

	cancel := func() {
		c.mu.Lock()
		entry.removed = true
		c.mu.Unlock()
	}
	return cancel, nil
}

// AddTeardown registers a hook that ignores the completion outcome.
//
// This is a convenience for resources that are released the same way on
// success and failure (e.g. disposing an engine pool).
//
// Parameters:
//   - fn: Teardown callback
//
// Returns:
//   - error: ErrFinished if the context has already completed
func (c *Context) AddTeardown(fn func(ctx context.Context) error) error {
	_, err := c.OnCompletion(func(ctx context.Context, _ Completion) error {
		return fn(ctx)
	})
	return err
}

// Finish completes the context exactly once.
//
// It derives the Completion from cause (nil => OutcomeClean, non-nil =>
// OutcomeException), runs all registered hooks in LIFO order, and closes
// the Done channel. Hook errors are collected with errors.Join and returned
// together with cause so no finalization error is silently swallowed.
//
// Parameters:
//   - ctx: Context for teardown deadlines (hooks may shield themselves)
//   - cause: The error that ended the unit of work, or nil for clean exit
//
// Returns:
//   - error: cause joined with any hook errors; ErrFinished on repeat calls
func (c *Context) Finish(ctx context.Context, cause error) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return ErrFinished
	}
	c.finished = true
	hooks := make([]*hookEntry, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	completion := Completion{Outcome: OutcomeClean}
	if cause != nil {
		completion = Completion{Outcome: OutcomeException, Cause: cause}
	}

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		c.mu.Lock()
		removed := hooks[i].removed
		c.mu.Unlock()
		if removed {
			continue
		}
		if err := hooks[i].fn(ctx, completion); err != nil {
			errs = append(errs, err)
		}
	}

	close(c.done)

	if cause != nil {
		errs = append([]error{cause}, errs...)
	}
	return errors.Join(errs...)
}

// Run executes fn inside a fresh child context and finishes it with fn's
// result, returning the combined unit-of-work and finalization error.
//
// This is the common request-handler shape:
//
//	err := lifecycle.Run(ctx, root, func(lctx *lifecycle.Context) error {
//	    sess, err := mgr.SessionFor(lctx)
//	    ...
//	})
func Run(ctx context.Context, parent *Context, fn func(lctx *Context) error) error {
	lctx := New(parent)
	cause := fn(lctx)
	return lctx.Finish(ctx, cause)
}
