package lifecycle

import (
	"fmt"
	"sync"
)

// Factory produces a lazily created, per-context resource instance.
//
// The factory is registered once (usually on the root context) and invoked
// at most once per requesting context; the instance is cached on that
// context, not on the context holding the registration.
type Factory func(lctx *Context) (any, error)

// lazyInstance guards single instantiation of a factory-built resource for
// one context. Needed because two goroutines on the same context may race
// to first access; only one may actually build the instance.
type lazyInstance struct {
	once  sync.Once
	value any
	err   error
}

// AddResource publishes a value under name on this context.
//
// The resource is visible to this context and all of its descendants.
//
// Returns:
//   - error: ErrDuplicate if the name is taken, ErrFinished after completion
func (c *Context) AddResource(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return ErrFinished
	}
	if err := c.checkNameFree(name); err != nil {
		return err
	}

	c.resources[name] = value
	return nil
}

// AddFactory publishes a lazy resource factory under name on this context.
//
// Descendant contexts that look up name get their own instance, created on
// first access and cached for the lifetime of the requesting context.
//
// Returns:
//   - error: ErrDuplicate if the name is taken, ErrFinished after completion
func (c *Context) AddFactory(name string, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return ErrFinished
	}
	if err := c.checkNameFree(name); err != nil {
		return err
	}

	c.factories[name] = factory
	return nil
}

// checkNameFree reports ErrDuplicate if name is already registered on this
// context. Callers must hold c.mu.
func (c *Context) checkNameFree(name string) error {
	if _, ok := c.resources[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	if _, ok := c.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	return nil
}

// GetResource looks up a resource by name.
//
// Plain resources are searched from this context up through its ancestors.
// If the name resolves to a factory, the factory runs at most once for this
// context even under concurrent first access; the instance is cached here,
// so repeated lookups return the same value and sibling contexts get their
// own.
//
// Returns:
//   - any: The resource value
//   - error: ErrNotFound if no resource or factory matches
func (c *Context) GetResource(name string) (any, error) {
	// Plain resources, own context first then ancestors.
	for p := c; p != nil; p = p.parent {
		p.mu.Lock()
		v, ok := p.resources[name]
		p.mu.Unlock()
		if ok {
			return v, nil
		}
	}

	// Factory registrations, own context first.
	for p := c; p != nil; p = p.parent {
		p.mu.Lock()
		factory, ok := p.factories[name]
		p.mu.Unlock()
		if !ok {
			continue
		}

		c.mu.Lock()
		if c.finished {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: cannot instantiate %q", ErrFinished, name)
		}
		if c.lazy == nil {
			c.lazy = make(map[string]*lazyInstance)
		}
		inst, ok := c.lazy[name]
		if !ok {
			inst = &lazyInstance{}
			c.lazy[name] = inst
		}
		c.mu.Unlock()

		inst.once.Do(func() {
			inst.value, inst.err = factory(c)
		})
		if inst.err != nil {
			return nil, fmt.Errorf("creating resource %q: %w", name, inst.err)
		}
		return inst.value, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Resource looks up a resource by name and asserts its type.
//
// Example:
//
//	sess, err := lifecycle.Resource[*session.Session](lctx, "dbsession")
func Resource[T any](lctx *Context, name string) (T, error) {
	var zero T
	v, err := lctx.GetResource(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T", ErrWrongType, name, v)
	}
	return typed, nil
}
