// Package engine builds database engine handles for dbscope.
//
// An Engine is a logical database connection target: a named connection
// pool plus the driver it speaks. Engines are constructed once at startup
// from declarative configuration and disposed at shutdown; everything in
// between (queries, transactions) happens through sessions bound to an
// engine (see internal/session).
//
// # Connection Descriptors
//
// A descriptor is either a single URL:
//
//	url: "postgres://app:secret@db:5432/orders"
//
// or structured fields:
//
//	driver: mysql
//	host: db
//	port: 3306
//	user: app
//	password: secret
//	database: orders
//
// Both forms normalize to one internal (driver, DSN) pair. Supported
// drivers: sqlite3 (mattn/go-sqlite3), mysql (go-sql-driver/mysql),
// postgres (lib/pq).
//
// # Pool Profiles
//
// The connection pool is owned by the Engine, never ambient state. Profiles
// give the common shapes a name:
//
//   - "default": general-purpose pool (bounded, recycled hourly)
//   - "single":  one connection (SQLite's single-writer model)
//   - "none":    no idle connections kept (fresh connection per use)
//
// Explicit limits override whatever the profile set.
//
// # Thread Safety
//
// An Engine and its pool are safe for concurrent use; the pool enforces its
// own internal concurrency control.
package engine
