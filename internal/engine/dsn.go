package engine

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Driver names accepted in connection descriptors.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// defaultSQLiteParams are applied to every SQLite DSN unless the descriptor
// overrides them. Matches the single-writer pool setup: wait for locks
// instead of failing, and keep referential integrity on.
var defaultSQLiteParams = map[string]string{
	"_busy_timeout": "5000",
	"_foreign_keys": "on",
}

// normalizeDescriptor converts a connection descriptor (URL or structured
// fields) into a (driver, DSN) pair for sql.Open.
//
// Returns:
//   - string: Driver name registered with database/sql
//   - string: Driver-specific DSN
//   - error: ErrConfiguration or ErrUnknownDriver on malformed input
func normalizeDescriptor(cfg Config) (string, string, error) {
	hasStructured := cfg.Driver != "" || cfg.Host != "" || cfg.Database != ""

	switch {
	case cfg.URL != "" && hasStructured:
		return "", "", fmt.Errorf("%w: specify either url or structured fields, not both", ErrConfiguration)
	case cfg.URL != "":
		return normalizeURL(cfg.URL)
	case hasStructured:
		return normalizeFields(cfg)
	default:
		return "", "", fmt.Errorf("%w: connection descriptor is empty", ErrConfiguration)
	}
}

// normalizeURL parses a URL-form descriptor. The scheme selects the driver.
func normalizeURL(raw string) (string, string, error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return "", "", fmt.Errorf("%w: descriptor %q has no scheme", ErrConfiguration, raw)
	}

	switch scheme {
	case "sqlite", "sqlite3":
		if rest == "" {
			return "", "", fmt.Errorf("%w: sqlite descriptor has no path", ErrConfiguration)
		}
		return DriverSQLite, sqliteDSN(rest, nil), nil

	case "mysql":
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("%w: parsing %q: %w", ErrConfiguration, raw, err)
		}
		mc, err := mysqlConfigFromURL(u)
		if err != nil {
			return "", "", err
		}
		return DriverMySQL, mc.FormatDSN(), nil

	case "postgres", "postgresql":
		// lib/pq accepts URL-form DSNs directly; just validate it parses.
		if _, err := url.Parse(raw); err != nil {
			return "", "", fmt.Errorf("%w: parsing %q: %w", ErrConfiguration, raw, err)
		}
		return DriverPostgres, raw, nil

	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDriver, scheme)
	}
}

// normalizeFields builds a DSN from structured descriptor fields.
func normalizeFields(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case DriverSQLite, "sqlite":
		if cfg.Database == "" {
			return "", "", fmt.Errorf("%w: sqlite descriptor requires database (file path or :memory:)", ErrConfiguration)
		}
		return DriverSQLite, sqliteDSN(cfg.Database, cfg.Params), nil

	case DriverMySQL:
		if cfg.Host == "" || cfg.Database == "" {
			return "", "", fmt.Errorf("%w: mysql descriptor requires host and database", ErrConfiguration)
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = hostPort(cfg.Host, cfg.Port, 3306)
		mc.DBName = cfg.Database
		if len(cfg.Params) > 0 {
			mc.Params = make(map[string]string, len(cfg.Params))
			for k, v := range cfg.Params {
				mc.Params[k] = v
			}
		}
		return DriverMySQL, mc.FormatDSN(), nil

	case DriverPostgres, "postgresql":
		if cfg.Host == "" || cfg.Database == "" {
			return "", "", fmt.Errorf("%w: postgres descriptor requires host and database", ErrConfiguration)
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   hostPort(cfg.Host, cfg.Port, 5432),
			Path:   "/" + cfg.Database,
		}
		if cfg.User != "" {
			if cfg.Password != "" {
				u.User = url.UserPassword(cfg.User, cfg.Password)
			} else {
				u.User = url.User(cfg.User)
			}
		}
		q := url.Values{}
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return DriverPostgres, u.String(), nil

	case "":
		return "", "", fmt.Errorf("%w: structured descriptor requires driver", ErrConfiguration)
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// sqliteDSN builds a mattn/go-sqlite3 DSN for a database path, merging
// default pragmas with descriptor params. Params are emitted in sorted
// order so the DSN is deterministic.
func sqliteDSN(path string, params map[string]string) string {
	merged := make(map[string]string, len(defaultSQLiteParams)+len(params))
	for k, v := range defaultSQLiteParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("file:")
	sb.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, k := range keys {
		sb.WriteString(sep)
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(merged[k]))
		sep = "&"
	}
	return sb.String()
}

// mysqlConfigFromURL converts a mysql:// URL into a driver config.
func mysqlConfigFromURL(u *url.URL) (*mysql.Config, error) {
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return nil, fmt.Errorf("%w: mysql descriptor requires host and database", ErrConfiguration)
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = u.Host
	if u.Port() == "" {
		mc.Addr = hostPort(u.Hostname(), 0, 3306)
	}
	mc.DBName = strings.Trim(u.Path, "/")
	if u.User != nil {
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
	}
	if q := u.Query(); len(q) > 0 {
		mc.Params = make(map[string]string, len(q))
		for k := range q {
			mc.Params[k] = q.Get(k)
		}
	}
	return mc, nil
}

// hostPort joins host and port, falling back to the driver default port.
func hostPort(host string, port, defaultPort int) string {
	if port <= 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}
