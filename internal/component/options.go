package component

import (
	"context"
	"database/sql"

	"github.com/nerrad567/dbscope/internal/engine"
	"github.com/nerrad567/dbscope/internal/session"
)

// Option customizes a Component at construction time. Options carry the
// settings that cannot come from YAML, such as callbacks and pre-bound
// database handles.
type Option func(*Component)

// WithReady registers a ready callback for the named engine. The callback
// runs after the pool is opened and pinged but before the engine is
// published, and its error aborts Start. Use it for schema bootstrap.
//
// For the single-engine URL shorthand the engine name is "default".
func WithReady(engineName string, fn func(ctx context.Context, e *engine.Engine) error) Option {
	return func(c *Component) {
		c.ready[engineName] = fn
	}
}

// WithBind overrides the named engine's connection descriptor with a
// pre-established handle. The component will not dispose the handle on
// teardown; its lifetime belongs to the caller.
//
// Used by test fixtures to point the component at a connection that is
// already inside an outer transaction.
func WithBind(engineName string, db *sql.DB, driver string) Option {
	return func(c *Component) {
		c.binds[engineName] = bindOverride{db: db, driver: driver}
	}
}

// WithLogger sets the logger used for finalization error reporting.
func WithLogger(logger session.Logger) Option {
	return func(c *Component) {
		c.logger = logger
	}
}

// bindOverride is one WithBind registration.
type bindOverride struct {
	db     *sql.DB
	driver string
}
