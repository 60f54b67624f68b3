package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/dbscope/internal/engine"
	"github.com/nerrad567/dbscope/internal/infrastructure/config"
	"github.com/nerrad567/dbscope/internal/lifecycle"
	"github.com/nerrad567/dbscope/internal/session"
)

// shorthandEngine is the logical name given to the engine built from the
// single-URL configuration shorthand.
const shorthandEngine = "default"

// Component builds and publishes the database integration resources.
//
// Thread Safety:
//   - New and Start are called once from the startup goroutine. Accessors
//     are safe for concurrent use after Start returns.
type Component struct {
	cfg config.DatabaseConfig

	ready  map[string]func(ctx context.Context, e *engine.Engine) error
	binds  map[string]bindOverride
	logger session.Logger

	engines map[string]*engine.Engine
	factory *session.Factory
	exec    *session.Executor
	manager *session.Manager
	started bool
}

// New creates a component from the database configuration section.
//
// Parameters:
//   - cfg: Database configuration (validated by config.Load; New re-checks
//     the constraints it depends on for direct construction)
//   - opts: Callback and bind overrides
//
// Returns:
//   - *Component: Component ready to Start
//   - error: ErrConfiguration if the engine set is malformed
func New(cfg config.DatabaseConfig, opts ...Option) (*Component, error) {
	if cfg.URL == "" && len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("%w: either database.url or database.engines must be set", ErrConfiguration)
	}
	if cfg.URL != "" && len(cfg.Engines) > 0 {
		return nil, fmt.Errorf("%w: database.url and database.engines are mutually exclusive", ErrConfiguration)
	}

	if cfg.ResourceName == "" {
		cfg.ResourceName = "default"
	}
	if cfg.SessionAttr == "" {
		cfg.SessionAttr = "dbsession"
	}

	c := &Component{
		cfg:   cfg,
		ready: make(map[string]func(ctx context.Context, e *engine.Engine) error),
		binds: make(map[string]bindOverride),
	}
	for _, opt := range opts {
		opt(c)
	}

	for name := range c.ready {
		if !c.hasEngine(name) {
			return nil, fmt.Errorf("%w: ready callback for unknown engine %q", ErrConfiguration, name)
		}
	}
	for name := range c.binds {
		if !c.hasEngine(name) {
			return nil, fmt.Errorf("%w: bind for unknown engine %q", ErrConfiguration, name)
		}
	}

	return c, nil
}

// hasEngine reports whether name refers to a configured engine.
func (c *Component) hasEngine(name string) bool {
	if c.cfg.URL != "" {
		return name == shorthandEngine
	}
	_, ok := c.cfg.Engines[name]
	return ok
}

// Start builds the engines, creates the session machinery and publishes
// everything as resources on the root lifecycle context.
//
// Teardown is registered on root: pending finalizations drain, then each
// engine's pool is disposed.
//
// Parameters:
//   - ctx: Context for connectivity checks and ready callbacks
//   - root: Root lifecycle context to publish on
//
// Returns:
//   - error: ErrAlreadyStarted, ErrDuplicateResource, or an engine
//     construction error
func (c *Component) Start(ctx context.Context, root *lifecycle.Context) error {
	if c.started {
		return ErrAlreadyStarted
	}

	engines, err := engine.BuildEngines(ctx, c.engineConfigs())
	if err != nil {
		return err
	}

	workers := c.cfg.CommitWorkers
	if workers <= 0 {
		workers = session.DefaultExecutorWorkers
	}

	c.engines = engines
	c.factory = session.NewFactory(engines, session.Config{Info: c.cfg.Session.Info})
	c.exec = session.NewExecutor(workers)
	c.manager = session.NewManager(c.factory, c.exec)
	if c.logger != nil {
		c.manager.SetLogger(c.logger)
	}

	if err := c.publish(root); err != nil {
		c.exec.Close()
		c.disposeEngines()
		return err
	}

	if err := root.AddTeardown(c.teardown); err != nil {
		c.exec.Close()
		c.disposeEngines()
		return err
	}

	c.started = true
	return nil
}

// publish registers the engines, the factory and the lazy session resource.
func (c *Component) publish(root *lifecycle.Context) error {
	if len(c.engines) == 1 {
		for _, e := range c.engines {
			if err := c.addResource(root, "engine", e); err != nil {
				return err
			}
		}
	} else {
		for name, e := range c.engines {
			if err := c.addResource(root, name, e); err != nil {
				return err
			}
		}
	}

	if err := c.addResource(root, "sessionmaker", c.factory); err != nil {
		return err
	}

	name := c.qualify(c.cfg.SessionAttr)
	if err := root.AddFactory(name, c.manager.ResourceFactory()); err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) {
			return fmt.Errorf("%w: %q", ErrDuplicateResource, name)
		}
		return err
	}

	return nil
}

// addResource publishes one value under the component's namespace.
func (c *Component) addResource(root *lifecycle.Context, name string, value any) error {
	qualified := c.qualify(name)
	if err := root.AddResource(qualified, value); err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) {
			return fmt.Errorf("%w: %q", ErrDuplicateResource, qualified)
		}
		return err
	}
	return nil
}

// qualify prefixes a resource name with the configured namespace. The
// "default" namespace publishes bare names so the common single-component
// case reads naturally.
func (c *Component) qualify(name string) string {
	if c.cfg.ResourceName == "default" {
		return name
	}
	return c.cfg.ResourceName + "." + name
}

// teardown drains pending finalizations and disposes the engines.
func (c *Component) teardown(ctx context.Context) error {
	c.exec.Close()
	c.manager.Close()
	return c.disposeEngines()
}

// disposeEngines closes every engine pool, collecting errors.
func (c *Component) disposeEngines() error {
	var errs []error
	for name, e := range c.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispose engine %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// engineConfigs maps the configuration section to engine descriptors,
// applying ready callbacks and bind overrides.
func (c *Component) engineConfigs() map[string]engine.Config {
	configs := make(map[string]engine.Config)

	if c.cfg.URL != "" {
		configs[shorthandEngine] = engine.Config{URL: c.cfg.URL}
	} else {
		for name, ec := range c.cfg.Engines {
			configs[name] = engine.Config{
				URL:      ec.URL,
				Driver:   ec.Driver,
				Host:     ec.Host,
				Port:     ec.Port,
				User:     ec.User,
				Password: ec.Password,
				Database: ec.Database,
				Params:   ec.Params,
				Pool: engine.PoolConfig{
					Profile:      ec.Pool.Profile,
					MaxOpenConns: ec.Pool.MaxOpenConns,
					MaxIdleConns: ec.Pool.MaxIdleConns,
				},
			}
		}
	}

	for name, fn := range c.ready {
		cfg := configs[name]
		cfg.Ready = fn
		configs[name] = cfg
	}
	for name, bind := range c.binds {
		cfg := configs[name]
		cfg.Bind = bind.db
		cfg.BindDriver = bind.driver
		configs[name] = cfg
	}

	return configs
}

// Engines returns the built engines. Valid after Start.
func (c *Component) Engines() map[string]*engine.Engine {
	return c.engines
}

// Factory returns the session factory. Valid after Start.
func (c *Component) Factory() *session.Factory {
	return c.factory
}

// Manager returns the session manager. Valid after Start.
func (c *Component) Manager() *session.Manager {
	return c.manager
}
