package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/dbscope/internal/engine"
)

// ErrUnsupportedDriver indicates a driver ClearDatabase has no schema
// reflection for.
var ErrUnsupportedDriver = errors.New("unsupported driver")

// ClearDatabase drops every table in the given database.
//
// Tables are discovered by reflecting the driver's catalog, so callers do
// not need to know the schema. Foreign key enforcement is disabled (or
// drops cascade) so tables can be removed in arbitrary order.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Open database handle
//   - driver: One of "sqlite3", "mysql", "postgres"
//   - schemas: Schemas to clear; defaults to the driver's current schema
//     when empty ("public" for postgres, the connected database for mysql,
//     ignored for sqlite3)
//
// Returns:
//   - error: ErrUnsupportedDriver or the first reflection/drop error
func ClearDatabase(ctx context.Context, db *sql.DB, driver string, schemas ...string) error {
	switch driver {
	case engine.DriverSQLite:
		return clearSQLite(ctx, db)
	case engine.DriverPostgres:
		return clearPostgres(ctx, db, schemas)
	case engine.DriverMySQL:
		return clearMySQL(ctx, db, schemas)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

func clearSQLite(ctx context.Context, db *sql.DB) error {
	tables, err := collect(ctx, db,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("reflect tables: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table))); err != nil {
			return fmt.Errorf("drop table %q: %w", table, err)
		}
	}

	return nil
}

func clearPostgres(ctx context.Context, db *sql.DB, schemas []string) error {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	for _, schema := range schemas {
		tables, err := collect(ctx, db,
			`SELECT tablename FROM pg_tables WHERE schemaname = $1`, schema)
		if err != nil {
			return fmt.Errorf("reflect tables in %q: %w", schema, err)
		}

		for _, table := range tables {
			stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s CASCADE`,
				quoteIdent(schema), quoteIdent(table))
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop table %q.%q: %w", schema, table, err)
			}
		}
	}

	return nil
}

func clearMySQL(ctx context.Context, db *sql.DB, schemas []string) error {
	if _, err := db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("disable foreign key checks: %w", err)
	}
	defer db.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")

	if len(schemas) == 0 {
		tables, err := collect(ctx, db,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`)
		if err != nil {
			return fmt.Errorf("reflect tables: %w", err)
		}
		return dropMySQLTables(ctx, db, "", tables)
	}

	for _, schema := range schemas {
		tables, err := collect(ctx, db,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = ? AND table_type = 'BASE TABLE'`, schema)
		if err != nil {
			return fmt.Errorf("reflect tables in %q: %w", schema, err)
		}
		if err := dropMySQLTables(ctx, db, schema, tables); err != nil {
			return err
		}
	}

	return nil
}

func dropMySQLTables(ctx context.Context, db *sql.DB, schema string, tables []string) error {
	for _, table := range tables {
		ident := quoteBacktick(table)
		if schema != "" {
			ident = quoteBacktick(schema) + "." + ident
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, ident)); err != nil {
			return fmt.Errorf("drop table %q: %w", table, err)
		}
	}
	return nil
}

// collect runs a single-column query and returns the values.
func collect(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// quoteIdent double-quotes an identifier for sqlite and postgres.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// quoteBacktick backtick-quotes an identifier for mysql.
func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
