// Package component wires engines, the session factory and the
// context-scoped session manager together and publishes them as lifecycle
// resources.
//
// A Component is built from configuration, started against a root lifecycle
// context, and torn down when that context finishes:
//
//	comp, err := component.New(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	if err := comp.Start(ctx, root); err != nil {
//	    return err
//	}
//
// Start publishes, under the configured resource namespace:
//   - each engine ("engine" for the single-engine shorthand, the logical
//     name otherwise)
//   - the session factory ("sessionmaker"), which also carries the
//     observer-callback registration surface
//   - a lazy per-context session resource (default name "dbsession") that
//     binds to the manager on first access
//
// Teardown is registered on the root context in reverse start order: the
// manager and its executor stop first, then each engine is disposed.
package component
