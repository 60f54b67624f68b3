package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Pool and connection constants.
const (
	// connectTimeout is the timeout for verifying connectivity at startup.
	connectTimeout = 5 * time.Second

	// defaultMaxOpenConns bounds the "default" pool profile.
	defaultMaxOpenConns = 25

	// defaultMaxIdleConns is the idle pool size for the "default" profile.
	defaultMaxIdleConns = 5

	// connMaxLifetime is how long any pooled connection lives before being
	// recycled.
	connMaxLifetime = time.Hour

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// Pool profile names resolvable from configuration.
const (
	PoolDefault = "default"
	PoolSingle  = "single"
	PoolNone    = "none"
)

// reservedNames are resource identifiers engines must not claim; they are
// published by the component for the session machinery.
var reservedNames = map[string]bool{
	"engine":       true,
	"sessionmaker": true,
	"dbsession":    true,
}

// PoolConfig describes the connection pool policy for one engine.
//
// Profile picks a named baseline; the explicit fields, when non-zero,
// override it.
type PoolConfig struct {
	// Profile is a named pool shape: "default", "single" or "none".
	// Empty means "default" ("single" for SQLite, which only supports one
	// writer).
	Profile string `yaml:"profile"`

	// MaxOpenConns caps open connections (0 = profile value).
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections kept in the pool (0 = profile value).
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// Config is the connection descriptor for one engine.
//
// Either URL or the structured fields must be set, never both. These map
// to one entry in the database.engines section of config.yaml.
type Config struct {
	// URL is the single-string descriptor form, e.g.
	// "sqlite://data/app.db" or "postgres://user:pw@host/db".
	URL string `yaml:"url"`

	// Structured descriptor fields, used when URL is empty.
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Params   map[string]string `yaml:"params"`

	// Pool is the connection pool policy.
	Pool PoolConfig `yaml:"pool"`

	// Ready, if set, runs after the pool is opened and pinged but before
	// the engine is published as a resource. Used for schema bootstrap.
	// Its error aborts startup. Not loadable from YAML.
	Ready func(ctx context.Context, e *Engine) error `yaml:"-"`

	// Bind, if set, supplies a pre-established handle instead of opening a
	// new pool (test-isolation path). The engine will not dispose it on
	// Close. Not loadable from YAML.
	Bind *sql.DB `yaml:"-"`

	// BindDriver names the driver behind Bind, required when Bind is set.
	BindDriver string `yaml:"-"`
}

// Engine is a logical database connection target: a named pool plus driver.
//
// Immutable after construction. Disposed via Close at application shutdown.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Engine struct {
	name   string
	driver string
	dsn    string
	db     *sql.DB

	// external marks a pre-bound handle whose lifetime the caller owns.
	external bool

	mu     sync.Mutex
	closed bool
}

// Open constructs an engine from a connection descriptor.
//
// It normalizes the descriptor, opens the pool, applies the pool policy and
// verifies connectivity with a ping. A configured Ready callback runs last;
// its error aborts construction and the pool is disposed.
//
// Parameters:
//   - ctx: Context for the connectivity check and ready callback
//   - name: Logical engine name (also its resource name)
//   - cfg: Connection descriptor and pool policy
//
// Returns:
//   - *Engine: Ready engine
//   - error: ErrConfiguration, ErrUnknownDriver, ErrUnknownPoolProfile,
//     ErrReservedName, or the driver/ready error
func Open(ctx context.Context, name string, cfg Config) (*Engine, error) {
	if reservedNames[name] {
		return nil, fmt.Errorf("%w: %q", ErrReservedName, name)
	}

	if cfg.Bind != nil {
		if cfg.BindDriver == "" {
			return nil, fmt.Errorf("%w: bind requires bind driver name", ErrConfiguration)
		}
		e := &Engine{name: name, driver: cfg.BindDriver, db: cfg.Bind, external: true}
		if cfg.Ready != nil {
			if err := cfg.Ready(ctx, e); err != nil {
				return nil, fmt.Errorf("engine %q ready callback: %w", name, err)
			}
		}
		return e, nil
	}

	driver, dsn, err := normalizeDescriptor(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine %q: %w", name, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("engine %q: opening database: %w", name, err)
	}

	if err := applyPool(db, driver, cfg.Pool); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("engine %q: %w", name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("engine %q: verifying connection: %w", name, err)
	}

	e := &Engine{name: name, driver: driver, dsn: dsn, db: db}

	if cfg.Ready != nil {
		if err := cfg.Ready(ctx, e); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("engine %q ready callback: %w", name, err)
		}
	}

	return e, nil
}

// BuildEngines constructs all configured engines.
//
// On any failure, engines already built are disposed before the error is
// returned, so startup never leaks pools.
//
// Parameters:
//   - ctx: Context for connectivity checks and ready callbacks
//   - configs: Logical name -> connection descriptor
//
// Returns:
//   - map[string]*Engine: Name -> ready engine
//   - error: First construction failure
func BuildEngines(ctx context.Context, configs map[string]Config) (map[string]*Engine, error) {
	engines := make(map[string]*Engine, len(configs))
	for name, cfg := range configs {
		e, err := Open(ctx, name, cfg)
		if err != nil {
			for _, built := range engines {
				built.Close() //nolint:errcheck // Best effort cleanup on error path
			}
			return nil, err
		}
		engines[name] = e
	}
	return engines, nil
}

// applyPool resolves the pool profile and applies limits to the pool.
func applyPool(db *sql.DB, driver string, cfg PoolConfig) error {
	profile := cfg.Profile
	if profile == "" {
		// SQLite only supports one writer.
		if driver == DriverSQLite {
			profile = PoolSingle
		} else {
			profile = PoolDefault
		}
	}

	switch profile {
	case PoolDefault:
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
	case PoolSingle:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case PoolNone:
		db.SetMaxOpenConns(0)
		db.SetMaxIdleConns(0)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPoolProfile, profile)
	}

	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return nil
}

// Name returns the logical engine name.
func (e *Engine) Name() string {
	return e.name
}

// Driver returns the database/sql driver name.
func (e *Engine) Driver() string {
	return e.driver
}

// DB returns the underlying pool handle.
//
// This is the synchronous construct event listeners and test fixtures
// attach to; sessions should be obtained through internal/session instead.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Conn checks one connection out of the pool.
//
// Parameters:
//   - ctx: Context for timeout/cancellation while waiting on the pool
//
// Returns:
//   - *sql.Conn: Dedicated connection; caller must Close it
//   - error: ErrClosed or the pool error
func (e *Engine) Conn(ctx context.Context) (*sql.Conn, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine %q: acquiring connection: %w", e.name, err)
	}
	return conn, nil
}

// HealthCheck verifies the engine's database is reachable.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("engine %q health check failed: %w", e.name, err)
	}
	return nil
}

// Stats returns connection pool statistics.
//
// Useful for monitoring; the metrics reporter samples these periodically.
func (e *Engine) Stats() sql.DBStats {
	return e.db.Stats()
}

// Close disposes the engine, releasing pooled connections.
//
// Pre-bound (external) handles are not closed; their lifetime belongs to
// the caller that supplied them. Close is idempotent.
//
// Returns:
//   - error: If disposing the pool fails
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.external {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("engine %q: closing pool: %w", e.name, err)
	}
	return nil
}
